// Package speech converts between voice messages and text using the
// OpenAI audio endpoints: Whisper for transcription and TTS for
// synthesis.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/nugget/tralfaz/internal/httpkit"
)

// Request timeouts.
const (
	TranscribeTimeout = 30 * time.Second
	SynthesizeTimeout = 60 * time.Second
)

// DefaultVoice is the TTS voice used when none is configured.
const DefaultVoice = "nova"

// ErrNothingToSay is returned by Synthesize when the text is empty
// after markdown is stripped.
var ErrNothingToSay = errors.New("nothing to synthesize")

// Service converts speech to text and back.
type Service interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config configures an [OpenAI] speech service.
type Config struct {
	APIKey  string
	BaseURL string // default https://api.openai.com/v1
	Voice   string
}

// OpenAI is a [Service] backed by Whisper and TTS.
type OpenAI struct {
	client *openai.Client
	voice  string
	logger *slog.Logger
}

// New creates an OpenAI speech service.
func New(cfg Config, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	// Per-call contexts carry the deadlines.
	clientConfig.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(0))

	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		voice:  voice,
		logger: logger.With("component", "speech"),
	}
}

// Transcribe sends an OGG/Opus voice note to Whisper and returns the
// recognized text.
func (s *OpenAI) Transcribe(ctx context.Context, audio []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, TranscribeTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "voice.oga",
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	s.logger.Debug("transcribed voice note",
		"bytes", len(audio),
		"chars", len(text),
		"duration", time.Since(start),
	)
	return text, nil
}

// Synthesize renders text as Opus audio suitable for a voice message.
// Markdown formatting is stripped first so it is not read aloud.
func (s *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, error) {
	plain := PlainText(text)
	if plain == "" {
		return nil, ErrNothingToSay
	}

	ctx, cancel := context.WithTimeout(ctx, SynthesizeTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          plain,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatOpus,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}

	s.logger.Debug("synthesized speech",
		"chars", len(plain),
		"bytes", len(audio),
		"duration", time.Since(start),
	)
	return audio, nil
}
