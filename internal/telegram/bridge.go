package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nugget/tralfaz/internal/appointments"
	"github.com/nugget/tralfaz/internal/prompts"
)

// handleTimeout bounds how long a single inbound message may be
// processed, agent turn and reply included.
const handleTimeout = 5 * time.Minute

// Responder runs one conversational turn. The real implementation is
// *agent.Assistant.
type Responder interface {
	Respond(ctx context.Context, owner, text string) (string, error)
	Reset(ctx context.Context, owner string) (int64, error)
}

// Speech converts between voice notes and text.
type Speech interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ScheduleLister lists an owner's upcoming appointments for /schedule.
type ScheduleLister interface {
	ListUpcoming(ctx context.Context, owner string, now time.Time) ([]*appointments.Appointment, error)
}

// Gateway is the subset of [Client] the bridge drives.
type Gateway interface {
	Updates(ctx context.Context) <-chan Update
	SendText(ctx context.Context, owner, text string) error
	SendVoice(ctx context.Context, owner string, audio []byte) error
	SendTyping(ctx context.Context, owner string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Gateway      Gateway
	Assistant    Responder
	Speech       Speech // nil disables voice in both directions
	Appointments ScheduleLister

	// OwnerChatID restricts the bot to one chat. Zero answers anyone.
	OwnerChatID int64

	// RatePerMinute limits inbound messages per chat. Zero is unlimited.
	RatePerMinute int

	Location *time.Location
	Logger   *slog.Logger
}

// Bridge receives Telegram updates, routes them through the assistant
// and sends the replies back.
type Bridge struct {
	gw        Gateway
	assistant Responder
	speech    Speech
	appts     ScheduleLister
	owner     int64
	perMinute int
	loc       *time.Location
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter

	wg sync.WaitGroup
}

// NewBridge creates a Telegram bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Bridge{
		gw:        cfg.Gateway,
		assistant: cfg.Assistant,
		speech:    cfg.Speech,
		appts:     cfg.Appointments,
		owner:     cfg.OwnerChatID,
		perMinute: cfg.RatePerMinute,
		loc:       loc,
		logger:    logger.With("component", "telegram_bridge"),
		limiters:  make(map[int64]*rate.Limiter),
	}
}

// Start handles updates until ctx is cancelled, each on its own
// goroutine, then waits for in-flight handlers to finish.
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("telegram bridge started", "owner_chat_id", b.owner)

	for upd := range b.gw.Updates(ctx) {
		if upd.Message == nil {
			continue
		}
		msg := upd.Message
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.HandleMessage(ctx, msg)
		}()
	}

	b.wg.Wait()
	b.logger.Info("telegram bridge stopped")
}

// HandleMessage processes one inbound message.
func (b *Bridge) HandleMessage(ctx context.Context, msg *Message) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	chatID := msg.Chat.ID
	owner := strconv.FormatInt(chatID, 10)

	if msg.From != nil && msg.From.IsBot {
		return
	}
	if b.owner != 0 && chatID != b.owner {
		b.logger.Warn("message from unauthorized chat", "chat_id", chatID)
		b.send(ctx, owner, prompts.NotAuthorized)
		return
	}
	if !b.allow(chatID) {
		b.logger.Warn("telegram message rate-limited", "chat_id", chatID)
		return
	}

	switch {
	case msg.Voice != nil:
		b.handleVoice(ctx, owner, msg.Voice)
	case strings.HasPrefix(msg.Text, "/"):
		b.handleCommand(ctx, owner, msg.Text)
	case strings.TrimSpace(msg.Text) != "":
		b.handleText(ctx, owner, msg.Text)
	default:
		b.logger.Debug("ignoring non-text message", "chat_id", chatID)
	}
}

func (b *Bridge) handleCommand(ctx context.Context, owner, text string) {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd, _, _ = strings.Cut(cmd, "@") // "/start@TralfazBot"

	b.logger.Info("telegram command", "owner", owner, "command", cmd)

	switch cmd {
	case "/start":
		b.send(ctx, owner, prompts.StartGreeting)
	case "/clear":
		n, err := b.assistant.Reset(ctx, owner)
		if err != nil {
			b.logger.Error("clear history failed", "owner", owner, "error", err)
			b.send(ctx, owner, prompts.GenericApology)
			return
		}
		b.logger.Info("conversation cleared", "owner", owner, "turns", n)
		b.send(ctx, owner, prompts.ClearConfirmation)
	case "/schedule":
		b.send(ctx, owner, b.scheduleListing(ctx, owner))
	case "/help":
		b.send(ctx, owner, prompts.HelpText)
	default:
		// Unknown commands are ordinary text to the assistant.
		b.handleText(ctx, owner, text)
	}
}

func (b *Bridge) scheduleListing(ctx context.Context, owner string) string {
	if b.appts == nil {
		return prompts.EmptySchedule
	}
	appts, err := b.appts.ListUpcoming(ctx, owner, time.Now())
	if err != nil {
		b.logger.Error("list appointments failed", "owner", owner, "error", err)
		return prompts.GenericApology
	}
	entries := make([]prompts.ScheduleEntry, 0, len(appts))
	for _, a := range appts {
		entries = append(entries, prompts.ScheduleEntry{ID: a.ID, Title: a.Title, When: a.When})
	}
	return prompts.ScheduleListing(entries, b.loc)
}

func (b *Bridge) handleVoice(ctx context.Context, owner string, v *Voice) {
	b.typing(ctx, owner)

	if b.speech == nil {
		b.send(ctx, owner, prompts.TranscriptionFailed)
		return
	}

	audio, err := b.gw.DownloadFile(ctx, v.FileID)
	if err != nil {
		b.logger.Error("voice download failed", "owner", owner, "error", err)
		b.send(ctx, owner, prompts.TranscriptionFailed)
		return
	}

	transcript, err := b.speech.Transcribe(ctx, audio)
	if err != nil || strings.TrimSpace(transcript) == "" {
		b.logger.Error("voice transcription failed", "owner", owner, "error", err)
		b.send(ctx, owner, prompts.TranscriptionFailed)
		return
	}

	b.logger.Info("voice transcribed", "owner", owner, "duration", v.Duration, "len", len(transcript))
	b.send(ctx, owner, prompts.HeardEcho(transcript))
	b.handleText(ctx, owner, transcript)
}

func (b *Bridge) handleText(ctx context.Context, owner, text string) {
	b.logger.Info("telegram message received", "owner", owner, "message_len", len(text))
	b.typing(ctx, owner)

	start := time.Now()
	reply, err := b.assistant.Respond(ctx, owner, text)
	if err != nil {
		b.logger.Error("assistant turn failed", "owner", owner, "error", err)
		b.send(ctx, owner, prompts.GenericApology)
		return
	}
	b.logger.Info("assistant turn completed",
		"owner", owner,
		"response_len", len(reply),
		"elapsed", time.Since(start),
	)
	b.reply(ctx, owner, reply)
}

// reply sends text, then a best-effort voice copy.
func (b *Bridge) reply(ctx context.Context, owner, text string) {
	if !b.send(ctx, owner, text) || b.speech == nil {
		return
	}
	audio, err := b.speech.Synthesize(ctx, text)
	if err != nil {
		b.logger.Warn("voice synthesis failed", "owner", owner, "error", err)
		return
	}
	if err := b.gw.SendVoice(ctx, owner, audio); err != nil {
		b.logger.Warn("voice reply failed", "owner", owner, "error", err)
	}
}

func (b *Bridge) send(ctx context.Context, owner, text string) bool {
	if err := b.gw.SendText(ctx, owner, text); err != nil {
		b.logger.Error("telegram send failed", "owner", owner, "error", err)
		return false
	}
	return true
}

func (b *Bridge) typing(ctx context.Context, owner string) {
	if err := b.gw.SendTyping(ctx, owner); err != nil {
		b.logger.Debug("telegram typing indicator failed", "error", err)
	}
}

// allow reports whether chatID is within its per-minute budget.
func (b *Bridge) allow(chatID int64) bool {
	if b.perMinute <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	lim, ok := b.limiters[chatID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(b.perMinute)), b.perMinute)
		b.limiters[chatID] = lim
	}
	return lim.Allow()
}
