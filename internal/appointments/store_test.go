package appointments

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Every pooled connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, db
}

func mustSave(t *testing.T, s *Store, a *Appointment) *Appointment {
	t.Helper()
	if err := s.Save(context.Background(), a); err != nil {
		t.Fatalf("Save(%q): %v", a.Title, err)
	}
	return a
}

func TestNewStore_MigrationIsIdempotent(t *testing.T) {
	_, db := setupTestStore(t)

	if _, err := NewStore(db); err != nil {
		t.Fatalf("second NewStore: %v", err)
	}

	rows, err := db.Query(`PRAGMA table_info(appointments)`)
	if err != nil {
		t.Fatalf("table info: %v", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if name == "external_ref" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("external_ref columns = %d, want 1", count)
	}
}

func TestSaveAndListUpcoming_RoundTrip(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	loc := time.UTC

	when, err := ParseTime("2026-04-01T09:00:00", loc)
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	a := mustSave(t, s, &Appointment{OwnerKey: "42", Title: "Dentist", When: when, LeadTime: 30 * time.Minute})

	if a.ID == 0 {
		t.Fatal("expected non-zero ID after Save")
	}

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, loc)
	got, err := s.ListUpcoming(ctx, "42", now)
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d appointments, want 1", len(got))
	}
	if got[0].ID != a.ID {
		t.Errorf("ID = %d, want %d", got[0].ID, a.ID)
	}
	if got[0].Title != "Dentist" {
		t.Errorf("Title = %q, want %q", got[0].Title, "Dentist")
	}
	if !got[0].When.Equal(when) {
		t.Errorf("When = %v, want %v", got[0].When, when)
	}
	if got[0].LeadTime != 30*time.Minute {
		t.Errorf("LeadTime = %v, want 30m", got[0].LeadTime)
	}
	if got[0].ExternalRef != "" {
		t.Errorf("ExternalRef = %q, want empty", got[0].ExternalRef)
	}
}

func TestSave_DefaultLeadTime(t *testing.T) {
	s, _ := setupTestStore(t)
	a := mustSave(t, s, &Appointment{OwnerKey: "1", Title: "x", When: time.Now().Add(time.Hour)})
	if a.LeadTime != DefaultLeadTime {
		t.Errorf("LeadTime = %v, want %v", a.LeadTime, DefaultLeadTime)
	}
}

func TestSave_Validation(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	tests := []struct {
		name string
		a    *Appointment
	}{
		{"missing owner", &Appointment{Title: "x", When: time.Now()}},
		{"missing title", &Appointment{OwnerKey: "1", When: time.Now()}},
		{"missing time", &Appointment{OwnerKey: "1", Title: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Save(ctx, tt.a); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestListUpcoming_ExcludesPastAndOtherOwners(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "later", When: now.Add(48 * time.Hour)})
	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "past", When: now.Add(-time.Hour)})
	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "sooner", When: now.Add(time.Hour)})
	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "exactly now", When: now})
	mustSave(t, s, &Appointment{OwnerKey: "99", Title: "foreign", When: now.Add(time.Hour)})

	got, err := s.ListUpcoming(ctx, "42", now)
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	want := []string{"exactly now", "sooner", "later"}
	if len(got) != len(want) {
		t.Fatalf("got %d appointments, want %d", len(got), len(want))
	}
	for i, title := range want {
		if got[i].Title != title {
			t.Errorf("got[%d].Title = %q, want %q", i, got[i].Title, title)
		}
	}
}

func TestCancel_ForeignOwnerDeletesNothing(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	when := time.Now().Add(24 * time.Hour)

	var seventh *Appointment
	for i := 0; i < 7; i++ {
		seventh = mustSave(t, s, &Appointment{OwnerKey: "99", Title: "theirs", When: when})
	}
	if seventh.ID != 7 {
		t.Fatalf("seventh ID = %d, want 7", seventh.ID)
	}

	deleted, err := s.Cancel(ctx, "42", 7)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if deleted {
		t.Error("Cancel by foreign owner reported success")
	}

	if _, err := s.Get(ctx, "99", 7); err != nil {
		t.Errorf("appointment 7 should still exist for owner 99: %v", err)
	}
}

func TestCancel_Owned(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	a := mustSave(t, s, &Appointment{OwnerKey: "42", Title: "mine", When: time.Now().Add(time.Hour)})

	deleted, err := s.Cancel(ctx, "42", a.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !deleted {
		t.Fatal("expected Cancel to report deletion")
	}

	if _, err := s.Get(ctx, "42", a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after cancel error = %v, want ErrNotFound", err)
	}

	deleted, err = s.Cancel(ctx, "42", a.ID)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if deleted {
		t.Error("second Cancel should delete nothing")
	}
}

func TestGet_ScopedByOwner(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	a := mustSave(t, s, &Appointment{OwnerKey: "99", Title: "theirs", When: time.Now().Add(time.Hour)})

	if _, err := s.Get(ctx, "42", a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(foreign) error = %v, want ErrNotFound", err)
	}
	got, err := s.Get(ctx, "99", a.ID)
	if err != nil {
		t.Fatalf("Get(owner): %v", err)
	}
	if got.Title != "theirs" {
		t.Errorf("Title = %q, want %q", got.Title, "theirs")
	}
}

func TestSetExternalRef(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	a := mustSave(t, s, &Appointment{OwnerKey: "42", Title: "synced", When: time.Now().Add(time.Hour)})

	if err := s.SetExternalRef(ctx, a.ID, "/cal/abc.ics"); err != nil {
		t.Fatalf("SetExternalRef: %v", err)
	}
	got, err := s.Get(ctx, "42", a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ExternalRef != "/cal/abc.ics" {
		t.Errorf("ExternalRef = %q, want %q", got.ExternalRef, "/cal/abc.ics")
	}

	unsynced, err := s.Unsynced(ctx, time.Now())
	if err != nil {
		t.Fatalf("Unsynced: %v", err)
	}
	if len(unsynced) != 0 {
		t.Errorf("Unsynced = %d rows, want 0", len(unsynced))
	}
}

func TestDueReminders_Window(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 11, 40, 0, 0, time.UTC)

	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "inside lead", When: now.Add(20 * time.Minute), LeadTime: 30 * time.Minute})
	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "edge of lead", When: now.Add(30 * time.Minute), LeadTime: 30 * time.Minute})
	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "outside lead", When: now.Add(31 * time.Minute), LeadTime: 30 * time.Minute})
	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "long lead", When: now.Add(2 * time.Hour), LeadTime: 3 * time.Hour})
	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "already started", When: now.Add(-time.Minute), LeadTime: 30 * time.Minute})
	mustSave(t, s, &Appointment{OwnerKey: "77", Title: "other owner", When: now.Add(10 * time.Minute), LeadTime: 30 * time.Minute})

	due, err := s.DueReminders(ctx, now)
	if err != nil {
		t.Fatalf("DueReminders: %v", err)
	}

	got := map[string]bool{}
	for _, a := range due {
		got[a.Title] = true
	}
	for _, title := range []string{"inside lead", "edge of lead", "long lead", "other owner"} {
		if !got[title] {
			t.Errorf("expected %q to be due", title)
		}
	}
	for _, title := range []string{"outside lead", "already started"} {
		if got[title] {
			t.Errorf("did not expect %q to be due", title)
		}
	}
}

func TestMarkReminded_RemovesFromDueSet(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 11, 40, 0, 0, time.UTC)
	a := mustSave(t, s, &Appointment{OwnerKey: "42", Title: "lunch", When: now.Add(20 * time.Minute)})

	if err := s.MarkReminded(ctx, a.ID); err != nil {
		t.Fatalf("MarkReminded: %v", err)
	}
	due, err := s.DueReminders(ctx, now)
	if err != nil {
		t.Fatalf("DueReminders: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("DueReminders after mark = %d rows, want 0", len(due))
	}

	got, err := s.Get(ctx, "42", a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Reminded {
		t.Error("Reminded = false after MarkReminded")
	}
}

func TestListBetween(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	loc := time.FixedZone("EST", -5*3600)
	day := time.Date(2026, 3, 3, 7, 0, 0, 0, loc)

	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "glass", When: time.Date(2026, 3, 3, 8, 0, 0, 0, loc)})
	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "dishwasher", When: time.Date(2026, 3, 3, 13, 0, 0, 0, loc)})
	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "late night", When: time.Date(2026, 3, 3, 23, 59, 0, 0, loc)})
	mustSave(t, s, &Appointment{OwnerKey: "42", Title: "tomorrow", When: time.Date(2026, 3, 4, 0, 0, 0, 0, loc)})

	from, to := DayBounds(day, loc)
	got, err := s.ListBetween(ctx, "42", from, to)
	if err != nil {
		t.Fatalf("ListBetween: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d, want 3", len(got))
	}
	if got[0].Title != "glass" || got[2].Title != "late night" {
		t.Errorf("unexpected order: %q .. %q", got[0].Title, got[2].Title)
	}
}

func TestSeedIfEmpty(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()
	seeds := []*Appointment{
		{OwnerKey: "42", Title: "Lunch with Liz", When: time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)},
		{OwnerKey: "42", Title: "Safelite", When: time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)},
	}

	n, err := s.SeedIfEmpty(ctx, seeds)
	if err != nil {
		t.Fatalf("SeedIfEmpty: %v", err)
	}
	if n != 2 {
		t.Errorf("seeded %d, want 2", n)
	}

	n, err = s.SeedIfEmpty(ctx, seeds)
	if err != nil {
		t.Fatalf("second SeedIfEmpty: %v", err)
	}
	if n != 0 {
		t.Errorf("second seed inserted %d, want 0", n)
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("Count = %d, want 2", count)
	}
}

func TestParseTime(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2026-04-01T09:00:00", time.Date(2026, 4, 1, 9, 0, 0, 0, loc), false},
		{"2026-04-01T09:00", time.Date(2026, 4, 1, 9, 0, 0, 0, loc), false},
		{"2026-04-01 09:00", time.Date(2026, 4, 1, 9, 0, 0, 0, loc), false},
		{"2026-04-01T14:00:00Z", time.Date(2026, 4, 1, 14, 0, 0, 0, time.UTC), false},
		{"2026-04-01T09:00:00-07:00", time.Date(2026, 4, 1, 16, 0, 0, 0, time.UTC), false},
		{"", time.Time{}, true},
		{"next tuesday", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in, loc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
