package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/nugget/tralfaz/internal/httpkit"
)

// DefaultTimeout bounds each CalDAV request.
const DefaultTimeout = 15 * time.Second

const productID = "-//nugget//tralfaz//EN"

// CalDAVConfig configures a [CalDAV] syncer.
type CalDAVConfig struct {
	URL      string // server endpoint
	Username string
	Password string
	Path     string // calendar collection path
}

// CalDAV mirrors appointments as VEVENT objects in a CalDAV collection.
// The external reference of an event is its object path.
type CalDAV struct {
	client     *caldav.Client
	collection string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewCalDAV creates a CalDAV syncer. No request is made until the first
// event is created.
func NewCalDAV(cfg CalDAVConfig, logger *slog.Logger) (*CalDAV, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var hc webdav.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout))
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(hc, cfg.Username, cfg.Password)
	}

	client, err := caldav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}

	collection := cfg.Path
	if !strings.HasSuffix(collection, "/") {
		collection += "/"
	}

	return &CalDAV{
		client:     client,
		collection: collection,
		timeout:    DefaultTimeout,
		logger:     logger.With("component", "calendar"),
	}, nil
}

// CreateEvent stores a one-hour event with a display alarm lead before
// it starts.
func (c *CalDAV) CreateEvent(ctx context.Context, title string, when time.Time, lead time.Duration) string {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	uid := uuid.NewString()
	objPath := path.Join(c.collection, uid+".ics")

	if _, err := c.client.PutCalendarObject(ctx, objPath, newEventCalendar(uid, title, when, lead)); err != nil {
		c.logger.Warn("failed to create calendar event", "title", title, "error", err)
		return ""
	}

	c.logger.Info("created calendar event", "title", title, "ref", objPath)
	return objPath
}

// DeleteEvent removes the event object at ref.
func (c *CalDAV) DeleteEvent(ctx context.Context, ref string) bool {
	if ref == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.RemoveAll(ctx, ref); err != nil {
		c.logger.Warn("failed to delete calendar event", "ref", ref, "error", err)
		return false
	}

	c.logger.Info("deleted calendar event", "ref", ref)
	return true
}

func newEventCalendar(uid, title string, when time.Time, lead time.Duration) *ical.Calendar {
	start := when.UTC()

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetText(ical.PropSummary, title)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(EventDuration))

	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, title)
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = alarmTrigger(lead)
	alarm.Props.Set(trigger)
	event.Children = append(event.Children, alarm)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, event.Component)
	return cal
}

// alarmTrigger formats a negative RFC 5545 duration in whole minutes.
func alarmTrigger(lead time.Duration) string {
	return fmt.Sprintf("-PT%dM", int(lead/time.Minute))
}
