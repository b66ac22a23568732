package prompts

import "fmt"

// Briefing kinds.
const (
	BriefingMorning = "morning"
	BriefingEvening = "evening"
)

const briefingTemplate = `%s

It is time for Sir's %s briefing. %s

Appointments:
%s

Deliver the briefing in character, in a few short sentences suitable for reading aloud. Mention each appointment and its time. If there are none, say so with appropriate relief. Do not use markdown.`

// BriefingRequest is the user turn that asks for a briefing.
const BriefingRequest = "Please give me my briefing."

// NoAppointments stands in for an empty appointment list.
const NoAppointments = "None scheduled."

// BriefingPrompt returns the system prompt for a morning or evening
// briefing. appointments is the pre-formatted list for the relevant day.
func BriefingPrompt(kind, appointments string) string {
	var focus string
	switch kind {
	case BriefingMorning:
		focus = "Summarize today's engagements and wish him a productive day."
	default:
		focus = "Preview tomorrow's engagements so he may retire prepared."
	}
	if appointments == "" {
		appointments = NoAppointments
	}
	return fmt.Sprintf(briefingTemplate, persona, kind, focus, appointments)
}
