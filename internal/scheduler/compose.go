package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/nugget/tralfaz/internal/appointments"
	"github.com/nugget/tralfaz/internal/prompts"
)

// FormatAppointments renders a day's appointments as the list handed to
// the briefing prompt, one "- Title at 03:04 PM" line each.
func FormatAppointments(appts []*appointments.Appointment, loc *time.Location) string {
	if len(appts) == 0 {
		return prompts.NoAppointments
	}
	lines := make([]string, 0, len(appts))
	for _, a := range appts {
		lines = append(lines, fmt.Sprintf("- %s at %s", a.Title, a.When.In(loc).Format("03:04 PM")))
	}
	return strings.Join(lines, "\n")
}
