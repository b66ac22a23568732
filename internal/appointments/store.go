package appointments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeLayout is the stored form of every timestamp: UTC, fixed width,
// second precision. Lexicographic order equals chronological order, so
// range predicates can be evaluated in SQL.
const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Store persists appointments in SQLite. It shares the process-wide
// *sql.DB; each method is a self-contained statement (or transaction)
// that acquires a connection from the pool and releases it before
// returning, on success and error alike.
type Store struct {
	db *sql.DB
}

// NewStore creates an appointment store, applying schema migrations.
// Migrations are idempotent and safe to run on every startup.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate appointments: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS appointments (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_key    TEXT NOT NULL,
			title        TEXT NOT NULL,
			when_at      TEXT NOT NULL,
			remind_at    TEXT NOT NULL,
			lead_minutes INTEGER NOT NULL DEFAULT 30,
			reminded     INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_appointments_owner ON appointments(owner_key, when_at);
		CREATE INDEX IF NOT EXISTS idx_appointments_due ON appointments(reminded, remind_at);
	`)
	if err != nil {
		return err
	}
	return s.addColumnIfMissing("appointments", "external_ref", "TEXT")
}

// addColumnIfMissing inspects the table definition and adds the column
// only when it is absent. SQLite has no ADD COLUMN IF NOT EXISTS.
func (s *Store) addColumnIfMissing(table, column, decl string) error {
	rows, err := s.db.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return fmt.Errorf("table info %s: %w", table, err)
	}
	found := false
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("scan table info %s: %w", table, err)
		}
		if name == column {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if found {
		return nil
	}
	_, err = s.db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + decl)
	if err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

const selectColumns = `id, owner_key, title, when_at, lead_minutes, reminded, external_ref, created_at`

// Save inserts a new appointment and fills in its ID and CreatedAt.
// A zero LeadTime is replaced with [DefaultLeadTime].
func (s *Store) Save(ctx context.Context, a *Appointment) error {
	if a.OwnerKey == "" {
		return fmt.Errorf("owner key is required")
	}
	if a.Title == "" {
		return fmt.Errorf("title is required")
	}
	if a.When.IsZero() {
		return fmt.Errorf("time is required")
	}
	if a.LeadTime <= 0 {
		a.LeadTime = DefaultLeadTime
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	var ref any
	if a.ExternalRef != "" {
		ref = a.ExternalRef
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO appointments (owner_key, title, when_at, remind_at, lead_minutes, reminded, external_ref, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, a.OwnerKey, a.Title, formatTime(a.When), formatTime(a.RemindAt()),
		a.LeadMinutes(), ref, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("appointment id: %w", err)
	}
	a.ID = id
	a.Reminded = false
	return nil
}

// Get returns the appointment with the given ID if it belongs to owner.
// Returns [ErrNotFound] for unknown IDs and for IDs owned by someone else.
func (s *Store) Get(ctx context.Context, owner string, id int64) (*Appointment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM appointments WHERE id = ? AND owner_key = ?`,
		id, owner)
	a, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %d: %w", id, err)
	}
	return a, nil
}

// ListUpcoming returns the owner's appointments at or after now,
// earliest first.
func (s *Store) ListUpcoming(ctx context.Context, owner string, now time.Time) ([]*Appointment, error) {
	return s.query(ctx, `
		SELECT `+selectColumns+` FROM appointments
		WHERE owner_key = ? AND when_at >= ?
		ORDER BY when_at ASC, id ASC
	`, owner, formatTime(now))
}

// ListBetween returns the owner's appointments in [from, to), earliest
// first. Used for daily briefings.
func (s *Store) ListBetween(ctx context.Context, owner string, from, to time.Time) ([]*Appointment, error) {
	return s.query(ctx, `
		SELECT `+selectColumns+` FROM appointments
		WHERE owner_key = ? AND when_at >= ? AND when_at < ?
		ORDER BY when_at ASC, id ASC
	`, owner, formatTime(from), formatTime(to))
}

// Cancel deletes the appointment if it belongs to owner. It reports
// whether a row was removed; a foreign or unknown ID removes nothing.
func (s *Store) Cancel(ctx context.Context, owner string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM appointments WHERE id = ? AND owner_key = ?`, id, owner)
	if err != nil {
		return false, fmt.Errorf("delete appointment %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete appointment %d: %w", id, err)
	}
	return n > 0, nil
}

// SetExternalRef attaches the mirrored calendar event reference.
func (s *Store) SetExternalRef(ctx context.Context, id int64, ref string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE appointments SET external_ref = ? WHERE id = ?`, ref, id)
	if err != nil {
		return fmt.Errorf("set external ref %d: %w", id, err)
	}
	return nil
}

// DueReminders returns every unreminded appointment, across all owners,
// that starts at or after now and no later than now plus its lead time.
func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]*Appointment, error) {
	ts := formatTime(now)
	return s.query(ctx, `
		SELECT `+selectColumns+` FROM appointments
		WHERE reminded = 0 AND when_at >= ? AND remind_at <= ?
		ORDER BY when_at ASC, id ASC
	`, ts, ts)
}

// MarkReminded flips the reminded flag. The flag is never cleared.
func (s *Store) MarkReminded(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE appointments SET reminded = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark reminded %d: %w", id, err)
	}
	return nil
}

// Unsynced returns future appointments, across all owners, that have no
// external calendar reference yet.
func (s *Store) Unsynced(ctx context.Context, now time.Time) ([]*Appointment, error) {
	return s.query(ctx, `
		SELECT `+selectColumns+` FROM appointments
		WHERE (external_ref IS NULL OR external_ref = '') AND when_at >= ?
		ORDER BY when_at ASC, id ASC
	`, formatTime(now))
}

// Count returns the total number of stored appointments.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM appointments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

// SeedIfEmpty inserts seeds in a single transaction when the table has
// no rows. It returns the number inserted.
func (s *Store) SeedIfEmpty(ctx context.Context, seeds []*Appointment) (int, error) {
	if len(seeds) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM appointments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	if n > 0 {
		return 0, nil
	}

	now := time.Now()
	for _, a := range seeds {
		if a.LeadTime <= 0 {
			a.LeadTime = DefaultLeadTime
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO appointments (owner_key, title, when_at, remind_at, lead_minutes, reminded, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?)
		`, a.OwnerKey, a.Title, formatTime(a.When), formatTime(a.RemindAt()), a.LeadMinutes(), formatTime(now))
		if err != nil {
			return 0, fmt.Errorf("seed %q: %w", a.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	return len(seeds), nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Appointment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(sc scanner) (*Appointment, error) {
	var (
		a         Appointment
		whenAt    string
		createdAt string
		lead      int
		reminded  int
		ref       sql.NullString
	)
	if err := sc.Scan(&a.ID, &a.OwnerKey, &a.Title, &whenAt, &lead, &reminded, &ref, &createdAt); err != nil {
		return nil, err
	}

	when, err := parseTime(whenAt)
	if err != nil {
		return nil, fmt.Errorf("parse when_at %q: %w", whenAt, err)
	}
	a.When = when
	a.CreatedAt, _ = parseTime(createdAt)
	a.LeadTime = time.Duration(lead) * time.Minute
	a.Reminded = reminded != 0
	if ref.Valid {
		a.ExternalRef = ref.String
	}
	return &a, nil
}
