// Package scheduler delivers time-driven notifications: appointment
// reminders and the morning and evening briefings.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/tralfaz/internal/appointments"
	"github.com/nugget/tralfaz/internal/prompts"
)

// DefaultInterval is how often both checks run.
const DefaultInterval = 60 * time.Second

// Default briefing hours, local time.
const (
	DefaultMorningHour = 7
	DefaultEveningHour = 21
)

// Config holds the scheduler's timing and recipient.
type Config struct {
	Interval    time.Duration
	MorningHour int
	EveningHour int

	// OwnerKey receives the briefings. Reminders go to each
	// appointment's own owner.
	OwnerKey string
	Location *time.Location
}

// Scheduler runs the reminder and briefing checks.
type Scheduler struct {
	cfg     Config
	store   *appointments.Store
	gateway Gateway
	synth   Synthesizer
	briefer Briefer
	cursor  *Cursor
	logger  *slog.Logger

	obsMu     sync.RWMutex
	observers []Observer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. synth may be nil, in which case no voice
// copies are sent. cursor may be nil for an in-memory cursor.
func New(cfg Config, store *appointments.Store, gateway Gateway, synth Synthesizer, briefer Briefer, cursor *Cursor, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cursor == nil {
		cursor = NewCursor(nil, logger)
	}
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		gateway: gateway,
		synth:   synth,
		briefer: briefer,
		cursor:  cursor,
		logger:  logger,
	}
}

// AddObserver registers o to see every delivery attempt.
func (s *Scheduler) AddObserver(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Scheduler) notify(ctx context.Context, ev Event) {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, o := range s.observers {
		o.Observe(ctx, ev)
	}
}

// Start launches the reminder and briefing loops. Each sleeps one
// interval before its first check.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(2)
	go s.loop(ctx, "reminders", s.CheckReminders)
	go s.loop(ctx, "briefings", s.CheckBriefings)

	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval,
		"morning_hour", s.cfg.MorningHour,
		"evening_hour", s.cfg.EveningHour,
	)
	return nil
}

// Stop cancels both loops and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, check func(context.Context, time.Time)) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.logger.Debug("scheduler tick", "loop", name)
			check(ctx, now)
		}
	}
}

// CheckReminders delivers every reminder due at now. Each appointment
// is handled independently; a failed text send leaves it unmarked so the
// next tick retries it.
func (s *Scheduler) CheckReminders(ctx context.Context, now time.Time) {
	due, err := s.store.DueReminders(ctx, now)
	if err != nil {
		s.logger.Error("failed to query due reminders", "error", err)
		return
	}

	for _, a := range due {
		text := prompts.ReminderText(a.Title, a.When, s.cfg.Location)
		ev := Event{
			Kind:          KindReminder,
			OwnerKey:      a.OwnerKey,
			AppointmentID: a.ID,
			Text:          text,
			At:            now,
		}

		if err := s.gateway.SendText(ctx, a.OwnerKey, text); err != nil {
			s.logger.Warn("reminder delivery failed",
				"appointment_id", a.ID, "owner", a.OwnerKey, "error", err)
			ev.Outcome = OutcomeSendFailed
			s.notify(ctx, ev)
			continue
		}

		ev.Outcome = OutcomeSent
		if !s.sendVoice(ctx, a.OwnerKey, text) {
			ev.Outcome = OutcomeVoiceFailed
		}

		if err := s.store.MarkReminded(ctx, a.ID); err != nil {
			s.logger.Error("failed to mark reminder sent", "appointment_id", a.ID, "error", err)
		}

		s.logger.Info("reminder sent", "appointment_id", a.ID, "title", a.Title)
		s.notify(ctx, ev)
	}
}

// CheckBriefings sends the morning or evening briefing when now falls in
// its hour and it has not yet fired today.
func (s *Scheduler) CheckBriefings(ctx context.Context, now time.Time) {
	local := now.In(s.cfg.Location)
	date := local.Format(time.DateOnly)

	for _, kind := range []string{KindMorning, KindEvening} {
		hour := s.cfg.MorningHour
		if kind == KindEvening {
			hour = s.cfg.EveningHour
		}
		if local.Hour() != hour || s.cursor.Fired(ctx, kind, date) {
			continue
		}
		s.brief(ctx, kind, local, date)
	}
}

func (s *Scheduler) brief(ctx context.Context, kind string, local time.Time, date string) {
	day := local
	if kind == KindEvening {
		day = local.AddDate(0, 0, 1)
	}
	from, to := appointments.DayBounds(day, s.cfg.Location)

	appts, err := s.store.ListBetween(ctx, s.cfg.OwnerKey, from, to)
	if err != nil {
		s.logger.Error("failed to list appointments for briefing", "kind", kind, "error", err)
		return
	}

	ev := Event{Kind: kind, OwnerKey: s.cfg.OwnerKey, At: local}

	text, err := s.briefer.Brief(ctx, kind, FormatAppointments(appts, s.cfg.Location))
	if err != nil {
		s.logger.Error("briefing generation failed", "kind", kind, "error", err)
		ev.Outcome = OutcomeGenerationFailed
		s.notify(ctx, ev)
		return
	}
	ev.Text = text

	// Past this point the briefing counts as fired even if delivery fails.
	s.cursor.Advance(ctx, kind, date)

	if err := s.gateway.SendText(ctx, s.cfg.OwnerKey, text); err != nil {
		s.logger.Warn("briefing delivery failed", "kind", kind, "error", err)
		ev.Outcome = OutcomeSendFailed
		s.notify(ctx, ev)
		return
	}

	ev.Outcome = OutcomeSent
	if !s.sendVoice(ctx, s.cfg.OwnerKey, text) {
		ev.Outcome = OutcomeVoiceFailed
	}

	s.logger.Info("briefing sent", "kind", kind, "date", date, "appointments", len(appts))
	s.notify(ctx, ev)
}

// sendVoice is best-effort and reports whether a voice copy went out.
// With no synthesizer configured it reports success.
func (s *Scheduler) sendVoice(ctx context.Context, owner, text string) bool {
	if s.synth == nil {
		return true
	}
	audio, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		s.logger.Warn("voice synthesis failed", "owner", owner, "error", err)
		return false
	}
	if err := s.gateway.SendVoice(ctx, owner, audio); err != nil {
		s.logger.Warn("voice delivery failed", "owner", owner, "error", err)
		return false
	}
	return true
}
