package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/nugget/tralfaz/internal/appointments"
	"github.com/nugget/tralfaz/internal/config"
	"github.com/nugget/tralfaz/internal/prompts"
	"github.com/nugget/tralfaz/internal/usage"
)

// openAppointments loads config and opens the appointment store for the
// offline commands. Only the settings they need are checked.
func openAppointments(configPath string) (*config.Config, *time.Location, *appointments.Store, func(), error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	if cfg.Telegram.OwnerChatID == 0 {
		return nil, nil, nil, nil, fmt.Errorf("invalid config %s: telegram.owner_chat_id is required", cfgPath)
	}
	db, err := openDatabase(cfg.DatabasePath())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	store, err := appointments.NewStore(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("appointment store: %w", err)
	}
	return cfg, loc, store, func() { db.Close() }, nil
}

type scheduleItem struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	When            string `json:"datetime"`
	ReminderMinutes int    `json:"reminder_minutes"`
	Reminded        bool   `json:"reminded"`
	ExternalRef     string `json:"external_ref,omitempty"`
}

// runSchedule prints the owner's upcoming appointments.
func runSchedule(ctx context.Context, w io.Writer, configPath, outputFmt string) error {
	cfg, loc, store, closeDB, err := openAppointments(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	appts, err := store.ListUpcoming(ctx, cfg.OwnerKey(), time.Now())
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		items := make([]scheduleItem, 0, len(appts))
		for _, a := range appts {
			items = append(items, scheduleItem{
				ID:              a.ID,
				Title:           a.Title,
				When:            appointments.FormatLocal(a.When, loc),
				ReminderMinutes: a.LeadMinutes(),
				Reminded:        a.Reminded,
				ExternalRef:     a.ExternalRef,
			})
		}
		return writeJSON(w, map[string]any{"appointments": items})
	}

	entries := make([]prompts.ScheduleEntry, 0, len(appts))
	for _, a := range appts {
		entries = append(entries, prompts.ScheduleEntry{ID: a.ID, Title: a.Title, When: a.When})
	}
	fmt.Fprintln(w, prompts.ScheduleListing(entries, loc))
	return nil
}

// runSync mirrors every future appointment without a calendar reference
// to the configured calendar.
func runSync(ctx context.Context, w io.Writer, configPath, outputFmt string) error {
	cfg, _, store, closeDB, err := openAppointments(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	logger := newLogger(w, cfg)
	if !cfg.Calendar.Enabled() {
		return errors.New("calendar is not configured (calendar.url and calendar.path)")
	}
	syncer, err := newSyncer(cfg, logger)
	if err != nil {
		return err
	}

	pending, err := store.Unsynced(ctx, time.Now())
	if err != nil {
		return err
	}

	var synced, failed int
	for _, a := range pending {
		ref := syncer.CreateEvent(ctx, a.Title, a.When, a.LeadTime)
		if ref == "" {
			failed++
			continue
		}
		if err := store.SetExternalRef(ctx, a.ID, ref); err != nil {
			logger.Error("failed to record calendar reference", "appointment_id", a.ID, "error", err)
			failed++
			continue
		}
		synced++
	}

	if outputFmt == "json" {
		return writeJSON(w, map[string]int{"synced": synced, "failed": failed})
	}
	fmt.Fprintf(w, "Synced %d appointment(s) to the calendar, %d failed.\n", synced, failed)
	return nil
}

// runUsage prints the token ledger totals for the last days days.
func runUsage(ctx context.Context, w io.Writer, configPath, outputFmt string, days int) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	ledger, err := usage.NewStore(db)
	if err != nil {
		return err
	}

	end := time.Now().Add(time.Minute)
	start := end.AddDate(0, 0, -days)

	total, err := ledger.Summary(ctx, start, end)
	if err != nil {
		return err
	}
	byModel, err := ledger.SummaryByModel(ctx, start, end)
	if err != nil {
		return err
	}
	byRole, err := ledger.SummaryByRole(ctx, start, end)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		return writeJSON(w, map[string]any{
			"days":     days,
			"total":    total,
			"by_model": byModel,
			"by_role":  byRole,
		})
	}

	fmt.Fprintf(w, "Model usage, last %d day(s):\n", days)
	printSummaryLine(w, "total", total)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "By model:")
	for _, k := range slices.Sorted(maps.Keys(byModel)) {
		printSummaryLine(w, k, byModel[k])
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "By role:")
	for _, k := range slices.Sorted(maps.Keys(byRole)) {
		printSummaryLine(w, k, byRole[k])
	}
	return nil
}

func printSummaryLine(w io.Writer, label string, s *usage.Summary) {
	fmt.Fprintf(w, "  %-28s %5d calls  %9d in  %9d out  $%.4f\n",
		label, s.TotalRecords, s.TotalInputTokens, s.TotalOutputTokens, s.TotalCostUSD)
}
