package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/tralfaz/internal/agent"
	"github.com/nugget/tralfaz/internal/api"
	"github.com/nugget/tralfaz/internal/appointments"
	"github.com/nugget/tralfaz/internal/buildinfo"
	"github.com/nugget/tralfaz/internal/calendar"
	"github.com/nugget/tralfaz/internal/config"
	"github.com/nugget/tralfaz/internal/llm"
	"github.com/nugget/tralfaz/internal/memory"
	"github.com/nugget/tralfaz/internal/metrics"
	"github.com/nugget/tralfaz/internal/mqtt"
	"github.com/nugget/tralfaz/internal/opstate"
	"github.com/nugget/tralfaz/internal/scheduler"
	"github.com/nugget/tralfaz/internal/speech"
	"github.com/nugget/tralfaz/internal/telegram"
	"github.com/nugget/tralfaz/internal/tools"
	"github.com/nugget/tralfaz/internal/usage"
)

// runServe is the primary operating mode: it loads and validates
// config, opens the database, wires the assistant, and runs the
// Telegram bridge, scheduler, API server and MQTT mirror until SIGINT
// or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	logger := newLogger(stdout, cfg)
	logger.Info("starting Tralfaz", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	loc, _ := cfg.Location() // validated
	logger.Info("config loaded",
		"path", cfgPath,
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"timezone", loc.String(),
		"data_dir", cfg.DataDir,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := openDatabase(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	apptStore, err := appointments.NewStore(db)
	if err != nil {
		return fmt.Errorf("appointment store: %w", err)
	}
	memStore, err := memory.NewStore(db, cfg.Conversation.Window)
	if err != nil {
		return fmt.Errorf("conversation store: %w", err)
	}
	state, err := opstate.NewStore(db)
	if err != nil {
		return fmt.Errorf("operational state store: %w", err)
	}
	ledger, err := usage.NewStore(db)
	if err != nil {
		return fmt.Errorf("usage store: %w", err)
	}

	owner := cfg.OwnerKey()
	if err := seedAppointments(ctx, apptStore, cfg, owner, loc, logger); err != nil {
		return err
	}

	syncer, err := newSyncer(cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.MustNew(registry)

	llmClient := newLLMClient(cfg, logger)
	convClient := usage.NewMeteredClient(llmClient, ledger, cfg.LLM.Provider, usage.RoleConversation, cfg.LLM.Pricing, logger)
	briefClient := usage.NewMeteredClient(llmClient, ledger, cfg.LLM.Provider, usage.RoleBriefing, cfg.LLM.Pricing, logger)

	toolRegistry := tools.NewRegistry()
	tools.NewAppointmentTools(apptStore, syncer, loc, logger).Register(toolRegistry)

	loop := agent.NewLoop(convClient, toolRegistry, cfg.LLM.Model, logger)
	loop.SetMaxIterations(cfg.LLM.MaxIterations)
	loop.SetHooks(m.Hooks())
	assistant := agent.NewAssistant(loop, memStore, loc, logger)

	speechSvc := speech.New(speech.Config{
		APIKey:  cfg.Speech.APIKey,
		BaseURL: cfg.Speech.BaseURL,
		Voice:   cfg.Speech.Voice,
	}, logger)

	tg := telegram.NewClient(telegram.ClientConfig{
		Token:       cfg.Telegram.Token,
		BaseURL:     cfg.Telegram.BaseURL,
		PollTimeout: time.Duration(cfg.Telegram.PollTimeoutSec) * time.Second,
	}, logger)

	bridge := telegram.NewBridge(telegram.BridgeConfig{
		Gateway:       tg,
		Assistant:     assistant,
		Speech:        speechSvc,
		Appointments:  apptStore,
		OwnerChatID:   cfg.Telegram.OwnerChatID,
		RatePerMinute: cfg.Telegram.RatePerMinute,
		Location:      loc,
		Logger:        logger,
	})

	sched := scheduler.New(scheduler.Config{
		Interval:    cfg.Schedule.Interval(),
		MorningHour: cfg.Schedule.MorningHour,
		EveningHour: cfg.Schedule.EveningHour,
		OwnerKey:    owner,
		Location:    loc,
	}, apptStore, tg, speechSvc,
		scheduler.NewLLMBriefer(briefClient, cfg.LLM.Model),
		scheduler.NewCursor(state, logger),
		logger.With("component", "scheduler"),
	)
	sched.AddObserver(m)

	var mirror *mqtt.Mirror
	if cfg.MQTT.Enabled() {
		clientID, err := mqtt.LoadOrCreateClientID(cfg.DataDir)
		if err != nil {
			return err
		}
		mirror = mqtt.NewMirror(cfg.MQTT, clientID, loc, logger)
		sched.AddObserver(mirror)
		logger.Info("mqtt notification mirror enabled", "broker", cfg.MQTT.Broker, "topic", cfg.MQTT.Topic)
	} else {
		logger.Info("mqtt notification mirror disabled (not configured)")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bridge.Start(gctx)
		return nil
	})

	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	if cfg.Listen.Port > 0 {
		server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, registry, apptStore, owner, logger)
		g.Go(func() error {
			if err := server.Start(gctx); err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
	}

	if mirror != nil {
		g.Go(func() error {
			if err := mirror.Start(gctx); err != nil {
				// The bot keeps working without the mirror.
				logger.Error("mqtt mirror failed", "error", err)
				return nil
			}
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := mirror.Stop(stopCtx); err != nil {
				logger.Warn("mqtt shutdown failed", "error", err)
			}
			return nil
		})
	}

	logger.Info("Tralfaz at your service", "owner_chat_id", cfg.Telegram.OwnerChatID)

	err = g.Wait()
	logger.Info("Tralfaz stopped")
	return err
}

// newLLMClient builds the configured chat provider.
func newLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	if cfg.LLM.Provider == "openai" {
		return llm.NewOpenAIClient(cfg.LLM.APIKey, llm.OpenAIOptions{
			BaseURL:   cfg.LLM.BaseURL,
			MaxTokens: cfg.LLM.MaxTokens,
		}, logger)
	}
	return llm.NewAnthropicClient(cfg.LLM.APIKey, llm.AnthropicOptions{
		BaseURL:   cfg.LLM.BaseURL,
		MaxTokens: cfg.LLM.MaxTokens,
	}, logger)
}

// newSyncer returns the CalDAV mirror when configured, else a no-op.
func newSyncer(cfg *config.Config, logger *slog.Logger) (calendar.Syncer, error) {
	if !cfg.Calendar.Enabled() {
		logger.Info("calendar sync disabled (not configured)")
		return calendar.Nop{}, nil
	}
	cd, err := calendar.NewCalDAV(calendar.CalDAVConfig{
		URL:      cfg.Calendar.URL,
		Username: cfg.Calendar.Username,
		Password: cfg.Calendar.Password,
		Path:     cfg.Calendar.Path,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	logger.Info("calendar sync enabled", "url", cfg.Calendar.URL, "path", cfg.Calendar.Path)
	return cd, nil
}

// seedAppointments inserts the configured seeds for owner when the
// appointment table is empty.
func seedAppointments(ctx context.Context, store *appointments.Store, cfg *config.Config, owner string, loc *time.Location, logger *slog.Logger) error {
	if len(cfg.SeedAppointments) == 0 {
		return nil
	}
	seeds := make([]*appointments.Appointment, 0, len(cfg.SeedAppointments))
	for i, s := range cfg.SeedAppointments {
		when, err := appointments.ParseTime(s.When, loc)
		if err != nil {
			return fmt.Errorf("seed_appointments[%d]: %w", i, err)
		}
		seeds = append(seeds, &appointments.Appointment{
			OwnerKey: owner,
			Title:    s.Title,
			When:     when,
			LeadTime: time.Duration(s.ReminderMinutes) * time.Minute,
		})
	}
	n, err := store.SeedIfEmpty(ctx, seeds)
	if err != nil {
		return fmt.Errorf("seed appointments: %w", err)
	}
	if n > 0 {
		logger.Info("seeded appointments", "count", n)
	}
	return nil
}
