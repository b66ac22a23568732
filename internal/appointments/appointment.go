// Package appointments persists the user's scheduled commitments and the
// reminder state the notification scheduler drives from them.
package appointments

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultLeadTime is how long before an appointment its reminder
// becomes eligible when the caller does not specify one.
const DefaultLeadTime = 30 * time.Minute

// ErrNotFound is returned by point lookups when no row matches the
// owner/id pair.
var ErrNotFound = errors.New("appointment not found")

// Appointment is a single scheduled commitment owned by one conversation.
type Appointment struct {
	ID          int64         `json:"id"`
	OwnerKey    string        `json:"owner_key"`
	Title       string        `json:"title"`
	When        time.Time     `json:"when"`
	LeadTime    time.Duration `json:"lead_time"`
	Reminded    bool          `json:"reminded"`
	ExternalRef string        `json:"external_ref,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// RemindAt returns the instant at which the reminder becomes due.
func (a *Appointment) RemindAt() time.Time {
	return a.When.Add(-a.LeadTime)
}

// LeadMinutes returns the lead time in whole minutes.
func (a *Appointment) LeadMinutes() int {
	return int(a.LeadTime / time.Minute)
}

// localLayouts are the wall-clock forms the model is asked to produce.
// They carry no zone and are interpreted in the configured location.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTime interprets an ISO 8601 timestamp. Values with an explicit
// offset are honoured as-is; bare wall-clock values are placed in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q (want ISO 8601, e.g. 2026-03-01T14:00:00)", s)
}

// FormatLocal renders t as a zone-less ISO 8601 wall-clock value in loc,
// the same shape the model is asked to produce.
func FormatLocal(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("2006-01-02T15:04:05")
}

// DayBounds returns the half-open interval [start, end) covering the
// calendar day of t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
