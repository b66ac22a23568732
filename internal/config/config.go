// Package config handles Tralfaz configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/tralfaz/config.yaml,
// /etc/tralfaz/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tralfaz", "config.yaml"))
	}

	paths = append(paths, "/etc/tralfaz/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Tralfaz configuration.
type Config struct {
	Telegram     TelegramConfig     `yaml:"telegram"`
	LLM          LLMConfig          `yaml:"llm"`
	Speech       SpeechConfig       `yaml:"speech"`
	Calendar     CalendarConfig     `yaml:"calendar"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Conversation ConversationConfig `yaml:"conversation"`
	Listen       ListenConfig       `yaml:"listen"`
	MQTT         MQTTConfig         `yaml:"mqtt"`

	DataDir  string `yaml:"data_dir"`
	Timezone string `yaml:"timezone"`
	LogLevel string `yaml:"log_level"`

	// SeedAppointments are inserted for the owner when the appointment
	// table is empty at startup.
	SeedAppointments []SeedAppointment `yaml:"seed_appointments"`
}

// TelegramConfig defines the Bot API connection.
type TelegramConfig struct {
	Token string `yaml:"token"`

	// OwnerChatID is the only chat the bot answers and the recipient of
	// briefings.
	OwnerChatID int64 `yaml:"owner_chat_id"`

	// BaseURL overrides https://api.telegram.org (tests, local Bot API
	// servers).
	BaseURL string `yaml:"base_url"`

	PollTimeoutSec int `yaml:"poll_timeout_sec"` // long-poll wait, default 30

	// RatePerMinute caps inbound turns per chat. Zero disables limiting.
	RatePerMinute int `yaml:"rate_per_minute"`
}

// LLMConfig selects the chat model provider.
type LLMConfig struct {
	Provider      string `yaml:"provider"` // anthropic (default) or openai
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	MaxTokens     int    `yaml:"max_tokens"`
	MaxIterations int    `yaml:"max_iterations"` // tool loop bound, default 8

	// Pricing maps model names to per-million-token rates for the usage
	// ledger. Unlisted models cost nothing.
	Pricing map[string]PricingEntry `yaml:"pricing"`
}

// PricingEntry is the USD cost per million tokens for one model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// SpeechConfig defines the Whisper/TTS service.
type SpeechConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Voice   string `yaml:"voice"` // default nova
}

// CalendarConfig defines the optional CalDAV mirror. Sync is disabled
// when URL is empty.
type CalendarConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Path is the calendar collection, e.g. /dav/calendars/me/personal/.
	Path string `yaml:"path"`
}

// Enabled reports whether calendar sync is configured.
func (c CalendarConfig) Enabled() bool {
	return c.URL != "" && c.Path != ""
}

// ScheduleConfig tunes the notification scheduler.
type ScheduleConfig struct {
	IntervalSec int `yaml:"interval_sec"` // default 60
	MorningHour int `yaml:"morning_hour"` // default 7
	EveningHour int `yaml:"evening_hour"` // default 21
}

// Interval returns the tick interval as a duration.
func (s ScheduleConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSec) * time.Second
}

// ConversationConfig tunes the conversation window.
type ConversationConfig struct {
	Window int `yaml:"window"` // default 40
}

// ListenConfig defines the metrics/health server. Port 0 disables it.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// MQTTConfig defines the optional notification mirror. Disabled when
// Broker is empty.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // e.g. mqtt://localhost:1883
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"` // default tralfaz/notifications
}

// Enabled reports whether the MQTT mirror is configured.
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// SeedAppointment is one startup seed. When is parsed in the configured
// timezone unless it carries an offset.
type SeedAppointment struct {
	Title           string `yaml:"title"`
	When            string `yaml:"when"`
	ReminderMinutes int    `yaml:"reminder_minutes"`
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration with every default applied and no
// credentials.
func Default() *Config {
	// Zero is a valid hour, so these are set before parsing rather
	// than filled in afterwards.
	cfg := &Config{
		Listen:   ListenConfig{Port: 8080},
		Schedule: ScheduleConfig{MorningHour: 7, EveningHour: 21},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Telegram.PollTimeoutSec <= 0 {
		c.Telegram.PollTimeoutSec = 30
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "claude-sonnet-4-20250514"
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.MaxIterations <= 0 {
		c.LLM.MaxIterations = 8
	}
	if c.Speech.Voice == "" {
		c.Speech.Voice = "nova"
	}
	if c.Schedule.IntervalSec <= 0 {
		c.Schedule.IntervalSec = 60
	}
	if c.Conversation.Window <= 0 {
		c.Conversation.Window = 40
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "tralfaz/notifications"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// Validate reports every fatal configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.Telegram.OwnerChatID == 0 {
		errs = append(errs, errors.New("telegram.owner_chat_id is required"))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required"))
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported (anthropic, openai)", c.LLM.Provider))
	}
	if c.Speech.APIKey == "" {
		errs = append(errs, errors.New("speech.api_key is required"))
	}
	if h := c.Schedule.MorningHour; h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("schedule.morning_hour %d out of range", h))
	}
	if h := c.Schedule.EveningHour; h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("schedule.evening_hour %d out of range", h))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves the configured timezone. Empty means the host's
// local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DatabasePath returns the SQLite file under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "tralfaz.db")
}

// OwnerKey returns the owner chat ID in the string form used as the
// conversation and appointment scope.
func (c *Config) OwnerKey() string {
	return fmt.Sprintf("%d", c.Telegram.OwnerChatID)
}
