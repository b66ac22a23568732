package mqtt

import (
	"sync"
	"time"
)

// Tally is the per-day count of delivered notifications.
type Tally struct {
	Date      string `json:"date"`
	Reminders int    `json:"reminders"`
	Briefings int    `json:"briefings"`
	Failures  int    `json:"failures"`
}

// DailyTally counts notifications and resets at local midnight. It is
// safe for concurrent use.
type DailyTally struct {
	mu  sync.Mutex
	cur Tally
	loc *time.Location
	now func() time.Time
}

// NewDailyTally creates a tally using loc for midnight detection. If loc
// is nil, [time.Local] is used.
func NewDailyTally(loc *time.Location) *DailyTally {
	if loc == nil {
		loc = time.Local
	}
	return &DailyTally{loc: loc, now: time.Now}
}

// Record counts one delivery attempt.
func (d *DailyTally) Record(reminder, ok bool) Tally {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	switch {
	case !ok:
		d.cur.Failures++
	case reminder:
		d.cur.Reminders++
	default:
		d.cur.Briefings++
	}
	return d.cur
}

// Snapshot returns today's counts.
func (d *DailyTally) Snapshot() Tally {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.cur
}

// maybeReset must be called with d.mu held.
func (d *DailyTally) maybeReset() {
	today := d.now().In(d.loc).Format(time.DateOnly)
	if today != d.cur.Date {
		d.cur = Tally{Date: today}
	}
}
