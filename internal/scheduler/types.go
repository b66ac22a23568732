package scheduler

import (
	"context"
	"time"

	"github.com/nugget/tralfaz/internal/prompts"
)

// Notification kinds.
const (
	KindReminder = "reminder"
	KindMorning  = prompts.BriefingMorning
	KindEvening  = prompts.BriefingEvening
)

// Delivery outcomes reported to observers.
const (
	OutcomeSent             = "sent"
	OutcomeSendFailed       = "send_failed"
	OutcomeVoiceFailed      = "voice_failed"
	OutcomeGenerationFailed = "generation_failed"
)

// Gateway delivers outbound messages to a conversation owner.
type Gateway interface {
	SendText(ctx context.Context, owner, text string) error
	SendVoice(ctx context.Context, owner string, audio []byte) error
}

// Synthesizer renders text as voice audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Briefer writes a briefing for the given kind from a formatted
// appointment list.
type Briefer interface {
	Brief(ctx context.Context, kind, appointments string) (string, error)
}

// Event describes one delivery attempt.
type Event struct {
	Kind          string    `json:"kind"`
	Outcome       string    `json:"outcome"`
	OwnerKey      string    `json:"owner_key"`
	AppointmentID int64     `json:"appointment_id,omitempty"`
	Text          string    `json:"text,omitempty"`
	At            time.Time `json:"at"`
}

// Observer is told about every delivery attempt. Observers must not
// block.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}
