// Package store manages the on-device SQLite database that caches stray-animal
// and lost-pet reports.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods. A single Store is shared by every repository
// for the lifetime of the process.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/straysync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS stray_animals (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    unique_id       TEXT    NOT NULL UNIQUE,
    photo_path      TEXT,
    type            TEXT    NOT NULL,
    colour          TEXT    NOT NULL,
    sex             TEXT    NOT NULL DEFAULT '',
    appearance      TEXT    NOT NULL,
    location        TEXT    NOT NULL,
    microchip_id    TEXT,
    contact_info    TEXT    NOT NULL DEFAULT '',
    additional_info TEXT    NOT NULL DEFAULT '',
    reported_at     TEXT    NOT NULL,
    uploaded        INTEGER NOT NULL DEFAULT 0,
    content_hash    TEXT    NOT NULL DEFAULT '',
    user_id         TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_stray_uploaded  ON stray_animals (uploaded);
CREATE INDEX IF NOT EXISTS idx_stray_microchip ON stray_animals (microchip_id);
CREATE INDEX IF NOT EXISTS idx_stray_type      ON stray_animals (type);

CREATE TABLE IF NOT EXISTS lost_pets (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    unique_id       TEXT    NOT NULL UNIQUE,
    photo_path      TEXT,
    type            TEXT    NOT NULL,
    name            TEXT    NOT NULL,
    colour          TEXT    NOT NULL,
    sex             TEXT    NOT NULL DEFAULT '',
    appearance      TEXT    NOT NULL,
    location        TEXT    NOT NULL,
    microchip_id    TEXT,
    contact_info    TEXT    NOT NULL DEFAULT '',
    additional_info TEXT    NOT NULL DEFAULT '',
    reported_at     TEXT    NOT NULL,
    uploaded        INTEGER NOT NULL DEFAULT 0,
    content_hash    TEXT    NOT NULL DEFAULT '',
    user_id         TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_lost_uploaded  ON lost_pets (uploaded);
CREATE INDEX IF NOT EXISTS idx_lost_microchip ON lost_pets (microchip_id);
CREATE INDEX IF NOT EXISTS idx_lost_type      ON lost_pets (type);
CREATE INDEX IF NOT EXISTS idx_lost_name      ON lost_pets (name);
`

// table describes the per-kind differences between the two report tables.
type table struct {
	name    string
	hasName bool
}

var tables = map[model.Kind]table{
	model.KindStrayAnimal: {name: "stray_animals"},
	model.KindLostPet:     {name: "lost_pets", hasName: true},
}

func tableFor(kind model.Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("no table for report kind %v", kind)
	}
	return t, nil
}

// columns returns the select/insert column list in scan order.
func (t table) columns() []string {
	cols := []string{"id", "unique_id", "photo_path", "type"}
	if t.hasName {
		cols = append(cols, "name")
	}
	return append(cols,
		"colour", "sex", "appearance", "location", "microchip_id",
		"contact_info", "additional_info", "reported_at", "uploaded",
		"content_hash", "user_id",
	)
}

func (t table) selectSQL() string {
	return "SELECT " + strings.Join(t.columns(), ", ") + " FROM " + t.name
}

// Store is the SQLite-backed local report store.
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	subs map[model.Kind]map[chan struct{}]struct{}
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{
		db:   db,
		subs: make(map[model.Kind]map[chan struct{}]struct{}),
	}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts r, or updates the existing row matching r.ID or r.UniqueID.
// r.ID is set to the row id on return.
func (s *Store) Upsert(ctx context.Context, r *model.Report) error {
	t, err := tableFor(r.Kind)
	if err != nil {
		return err
	}
	if r.UniqueID == "" {
		return fmt.Errorf("upserting %s report: %w: unique id is required", r.Kind, model.ErrInvalidReport)
	}

	cols := t.columns()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	// Every column except the primary key is refreshed on conflict.
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	setClause := strings.Join(sets, ", ")

	q := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT(id) DO UPDATE SET %s
		ON CONFLICT(unique_id) DO UPDATE SET %s
		RETURNING id`,
		t.name, strings.Join(cols, ", "), placeholders, setClause, setClause)

	args := []any{
		sql.NullInt64{Int64: r.ID, Valid: r.ID != 0},
		r.UniqueID,
		nullString(photoColumn(r.Photo)),
		r.Type,
	}
	if t.hasName {
		args = append(args, r.Name)
	}
	args = append(args,
		r.Colour,
		r.Sex,
		r.Appearance,
		r.Location,
		nullString(r.MicrochipID),
		r.ContactInfo,
		r.AdditionalInfo,
		model.FormatLocalDateTime(r.ReportedAt),
		r.Uploaded,
		r.ContentHash(),
		r.UserID,
	)

	var id int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return fmt.Errorf("upserting %s report %s: %w", r.Kind, r.UniqueID, err)
	}
	r.ID = id
	s.notify(r.Kind)
	return nil
}

// MarkUploaded flips the upload flag for the row with the given id, but only
// if its content hash and photo still match what was pushed. It reports
// whether the row was updated; false means the row was edited or deleted in
// the meantime and remains a retry candidate.
func (s *Store) MarkUploaded(ctx context.Context, r *model.Report) (bool, error) {
	t, err := tableFor(r.Kind)
	if err != nil {
		return false, err
	}
	q := fmt.Sprintf(`
		UPDATE %s SET uploaded = 1
		WHERE id = ? AND content_hash = ? AND IFNULL(photo_path, '') = ?`, t.name)

	res, err := s.db.ExecContext(ctx, q, r.ID, r.ContentHash(), photoColumn(r.Photo))
	if err != nil {
		return false, fmt.Errorf("marking %s report id=%d uploaded: %w", r.Kind, r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking %s report id=%d uploaded: %w", r.Kind, r.ID, err)
	}
	if n > 0 {
		r.Uploaded = true
		s.notify(r.Kind)
	}
	return n > 0, nil
}

// Delete removes the row with the given local id. Deleting a missing row is
// not an error.
func (s *Store) Delete(ctx context.Context, kind model.Kind, id int64) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.name)
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("deleting %s report id=%d: %w", kind, id, err)
	}
	s.notify(kind)
	return nil
}

// Get returns the report with the given local id, or (nil, nil) if none.
func (s *Store) Get(ctx context.Context, kind model.Kind, id int64) (*model.Report, error) {
	return s.getOne(ctx, kind, "id = ?", id)
}

// GetByUniqueID returns the report with the given unique id, or (nil, nil).
func (s *Store) GetByUniqueID(ctx context.Context, kind model.Kind, uniqueID string) (*model.Report, error) {
	return s.getOne(ctx, kind, "unique_id = ?", uniqueID)
}

// GetByMicrochipID returns the first report with the given microchip id, or
// (nil, nil). The id is normalized before the lookup.
func (s *Store) GetByMicrochipID(ctx context.Context, kind model.Kind, microchipID string) (*model.Report, error) {
	return s.getOne(ctx, kind, "microchip_id = ?", model.NormalizeMicrochipID(microchipID))
}

func (s *Store) getOne(ctx context.Context, kind model.Kind, where string, arg any) (*model.Report, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	q := t.selectSQL() + " WHERE " + where + " ORDER BY id LIMIT 1"
	r, err := scanReport(s.db.QueryRowContext(ctx, q, arg), t, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	return r, err
}

// List returns the reports of one kind matching q.
func (s *Store) List(ctx context.Context, kind model.Kind, q Query) ([]*model.Report, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	stmt, args, err := q.build(t)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, t, kind, stmt, args...)
}

// ListPending returns every report of one kind that has local changes not yet
// confirmed by the remote stores, oldest row first.
func (s *Store) ListPending(ctx context.Context, kind model.Kind) ([]*model.Report, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, t, kind, t.selectSQL()+" WHERE uploaded = 0 ORDER BY id")
}

// Count returns the number of rows of one kind, and how many are pending.
func (s *Store) Count(ctx context.Context, kind model.Kind) (total, pending int, err error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, 0, err
	}
	q := fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(uploaded = 0), 0) FROM %s`, t.name)
	if err := s.db.QueryRowContext(ctx, q).Scan(&total, &pending); err != nil {
		return 0, 0, fmt.Errorf("counting %s reports: %w", kind, err)
	}
	return total, pending, nil
}

// IsEmpty reports whether no report of any kind is stored.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	for _, kind := range model.Kinds {
		total, _, err := s.Count(ctx, kind)
		if err != nil {
			return false, err
		}
		if total > 0 {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) query(ctx context.Context, t table, kind model.Kind, q string, args ...any) ([]*model.Report, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s reports: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var reports []*model.Report
	for rows.Next() {
		r, err := scanReport(rows, t, kind)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanReport can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanReport(s scanner, t table, kind model.Kind) (*model.Report, error) {
	r := model.Report{Kind: kind}
	var photo, microchip sql.NullString
	var reportedAt string

	dest := []any{&r.ID, &r.UniqueID, &photo, &r.Type}
	if t.hasName {
		dest = append(dest, &r.Name)
	}
	var hash string
	dest = append(dest,
		&r.Colour,
		&r.Sex,
		&r.Appearance,
		&r.Location,
		&microchip,
		&r.ContactInfo,
		&r.AdditionalInfo,
		&reportedAt,
		&r.Uploaded,
		&hash,
		&r.UserID,
	)

	if err := s.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning %s report row: %w", kind, err)
	}

	r.Photo = model.ParsePhoto(photo.String)
	r.MicrochipID = microchip.String

	var err error
	r.ReportedAt, err = model.ParseLocalDateTime(reportedAt)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", r.UniqueID, err)
	}
	return &r, nil
}

func photoColumn(p model.Photo) string {
	path, _ := p.Path()
	return path
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
