// Package calendar mirrors appointments into an external calendar. The
// mirror is best-effort: adapters log failures and report them through
// their return values, never as errors.
package calendar

import (
	"context"
	"time"
)

// EventDuration is the length of every mirrored event.
const EventDuration = time.Hour

// Syncer creates and deletes mirrored events.
type Syncer interface {
	// CreateEvent mirrors an appointment and returns its external
	// reference, or "" when the event could not be created.
	CreateEvent(ctx context.Context, title string, when time.Time, lead time.Duration) string

	// DeleteEvent removes a mirrored event and reports success.
	DeleteEvent(ctx context.Context, ref string) bool
}

// Nop is the Syncer used when no calendar is configured.
type Nop struct{}

// CreateEvent returns "".
func (Nop) CreateEvent(context.Context, string, time.Time, time.Duration) string { return "" }

// DeleteEvent returns false.
func (Nop) DeleteEvent(context.Context, string) bool { return false }
