package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/tralfaz/internal/appointments"
	"github.com/nugget/tralfaz/internal/calendar"
	"github.com/nugget/tralfaz/internal/prompts"
)

// Appointment tool names.
const (
	SaveAppointment   = "save_appointment"
	ListAppointments  = "list_appointments"
	CancelAppointment = "cancel_appointment"
)

// maxReminderMinutes bounds reminder_minutes to one week.
const maxReminderMinutes = 7 * 24 * 60

// AppointmentTools implements the appointment tools over a store, with
// best-effort mirroring to a calendar.
type AppointmentTools struct {
	store    *appointments.Store
	calendar calendar.Syncer
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// NewAppointmentTools creates the appointment tool set. A nil syncer
// selects [calendar.Nop]; a nil location selects time.Local.
func NewAppointmentTools(store *appointments.Store, syncer calendar.Syncer, loc *time.Location, logger *slog.Logger) *AppointmentTools {
	if syncer == nil {
		syncer = calendar.Nop{}
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AppointmentTools{
		store:    store,
		calendar: syncer,
		loc:      loc,
		logger:   logger.With("component", "tools"),
		now:      time.Now,
	}
}

// Register adds the appointment tools to r.
func (a *AppointmentTools) Register(r *Registry) {
	r.Register(&Tool{
		Name:        SaveAppointment,
		Description: prompts.SaveAppointmentDescription,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Short description of the appointment",
				},
				"datetime": map[string]any{
					"type":        "string",
					"description": "ISO 8601 datetime string, e.g. 2026-03-01T14:00:00",
				},
				"reminder_minutes": map[string]any{
					"type":        "integer",
					"description": "Minutes before the appointment to send a reminder (default 30)",
					"minimum":     1,
					"maximum":     maxReminderMinutes,
				},
			},
			"required": []string{"title", "datetime"},
		},
		Handler: a.handleSave,
	})

	r.Register(&Tool{
		Name:        ListAppointments,
		Description: prompts.ListAppointmentsDescription,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: a.handleList,
	})

	r.Register(&Tool{
		Name:        CancelAppointment,
		Description: prompts.CancelAppointmentDescription,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"appointment_id": map[string]any{
					"type":        "integer",
					"description": "The ID of the appointment to cancel",
				},
			},
			"required": []string{"appointment_id"},
		},
		Handler: a.handleCancel,
	})
}

func (a *AppointmentTools) handleSave(ctx context.Context, args map[string]any) (string, error) {
	owner := OwnerKeyFromContext(ctx)
	if owner == "" {
		return "", ErrNoOwner
	}

	title := stringArg(args, "title")
	if title == "" {
		return "", fmt.Errorf("title is required")
	}
	raw := stringArg(args, "datetime")
	if raw == "" {
		return "", fmt.Errorf("datetime is required")
	}
	when, err := appointments.ParseTime(raw, a.loc)
	if err != nil {
		return "", err
	}

	lead := appointments.DefaultLeadTime
	minutes, ok, err := intArg(args, "reminder_minutes")
	if err != nil {
		return "", err
	}
	if ok {
		if minutes < 1 || minutes > maxReminderMinutes {
			return "", fmt.Errorf("reminder_minutes must be between 1 and %d", maxReminderMinutes)
		}
		lead = time.Duration(minutes) * time.Minute
	}

	appt := &appointments.Appointment{
		OwnerKey: owner,
		Title:    title,
		When:     when,
		LeadTime: lead,
	}
	if err := a.store.Save(ctx, appt); err != nil {
		return "", err
	}
	a.logger.Info("appointment saved",
		"id", appt.ID,
		"owner", owner,
		"title", title,
		"when", appointments.FormatLocal(when, a.loc),
	)

	// The local row is committed; the mirror only enriches it.
	if ref := a.calendar.CreateEvent(ctx, title, when, lead); ref != "" {
		if err := a.store.SetExternalRef(ctx, appt.ID, ref); err != nil {
			a.logger.Warn("failed to record calendar ref", "id", appt.ID, "ref", ref, "error", err)
		}
	}

	return jsonResult(map[string]any{"success": true, "appointment_id": appt.ID})
}

// appointmentView is the shape of one appointment in list results.
type appointmentView struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Datetime        string `json:"datetime"`
	ReminderMinutes int    `json:"reminder_minutes"`
	Reminded        bool   `json:"reminded"`
}

func (a *AppointmentTools) handleList(ctx context.Context, _ map[string]any) (string, error) {
	owner := OwnerKeyFromContext(ctx)
	if owner == "" {
		return "", ErrNoOwner
	}

	appts, err := a.store.ListUpcoming(ctx, owner, a.now())
	if err != nil {
		return "", err
	}

	views := make([]appointmentView, 0, len(appts))
	for _, appt := range appts {
		views = append(views, appointmentView{
			ID:              appt.ID,
			Title:           appt.Title,
			Datetime:        appointments.FormatLocal(appt.When, a.loc),
			ReminderMinutes: appt.LeadMinutes(),
			Reminded:        appt.Reminded,
		})
	}
	return jsonResult(map[string]any{"appointments": views})
}

func (a *AppointmentTools) handleCancel(ctx context.Context, args map[string]any) (string, error) {
	owner := OwnerKeyFromContext(ctx)
	if owner == "" {
		return "", ErrNoOwner
	}

	id, ok, err := intArg(args, "appointment_id")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("appointment_id is required")
	}

	appt, err := a.store.Get(ctx, owner, id)
	switch {
	case errors.Is(err, appointments.ErrNotFound):
	case err != nil:
		return "", err
	case appt.ExternalRef != "":
		if !a.calendar.DeleteEvent(ctx, appt.ExternalRef) {
			a.logger.Warn("calendar event not removed", "id", id, "ref", appt.ExternalRef)
		}
	}

	deleted, err := a.store.Cancel(ctx, owner, id)
	if err != nil {
		return "", err
	}
	a.logger.Info("appointment cancel", "id", id, "owner", owner, "deleted", deleted)

	return jsonResult(map[string]any{"success": deleted})
}
