package prompts

import (
	"fmt"
	"strings"
	"time"
)

// Fixed replies sent to the user.
const (
	StartGreeting     = "Good day, Sir. Tralfaz at your service. How may I be of assistance?"
	ClearConfirmation = "Very good, Sir. The slate has been wiped clean. A fresh start, as it were."
	EmptySchedule     = "Your calendar is blissfully empty, Sir. A rare luxury."
	ScheduleHeader    = "Your upcoming engagements, Sir:"

	TranscriptionFailed = "I'm terribly sorry, Sir. I couldn't quite make that out. Perhaps you might try again?"

	// GenericApology answers a turn that failed for reasons the user
	// cannot fix (LLM or storage errors).
	GenericApology = "My sincerest apologies, Sir. I seem to have momentarily lost my composure. Might you repeat that?"

	// IterationLimitApology answers a turn whose tool loop did not settle.
	IterationLimitApology = "Forgive me, Sir. I became rather tangled in the ledgers and could not finish that request. Perhaps we might try it more simply?"

	HelpText = `At your service, Sir. Simply tell me of your engagements and I shall keep track of them.

/schedule - list upcoming engagements
/clear - forget our conversation
/help - this message`

	// NotAuthorized is sent to chats other than the owner's.
	NotAuthorized = "I'm afraid I am already in service, and not at liberty to assist."
)

// ReminderText is the reminder delivered ahead of an appointment.
func ReminderText(title string, when time.Time, loc *time.Location) string {
	return fmt.Sprintf(`Pardon the interruption, Sir. A gentle reminder: "%s" is coming up at %s.`,
		title, when.In(loc).Format("03:04 PM"))
}

// HeardEcho confirms what a voice message was transcribed as.
func HeardEcho(transcript string) string {
	return fmt.Sprintf(`[I heard: "%s"]`, transcript)
}

// ScheduleEntry is one line group in the /schedule listing.
type ScheduleEntry struct {
	ID    int64
	Title string
	When  time.Time
}

// ScheduleListing renders upcoming appointments for /schedule.
func ScheduleListing(entries []ScheduleEntry, loc *time.Location) string {
	if len(entries) == 0 {
		return EmptySchedule
	}
	var sb strings.Builder
	sb.WriteString(ScheduleHeader)
	sb.WriteString("\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n  #%d - %s\n       %s", e.ID, e.Title,
			e.When.In(loc).Format("Monday, January 02 at 03:04 PM"))
	}
	return sb.String()
}
