package prompts

// Tool descriptions shown to the model.
const (
	SaveAppointmentDescription = "Save an appointment or scheduled event. Use this whenever Sir mentions an upcoming appointment, meeting, event, or anything with a date/time."

	ListAppointmentsDescription = "List all upcoming appointments for the current chat."

	CancelAppointmentDescription = "Cancel an appointment by its ID."
)
