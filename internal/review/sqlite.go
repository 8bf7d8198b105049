// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable review record store.
type SQLiteStore struct {
	conn *sql.DB
}

// Open creates a review store at path and runs pending migrations.
func Open(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{conn: conn}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

type migration struct {
	version int
	fn      func(tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, fn: migrate001},
}

func (s *SQLiteStore) migrate() error {
	_, err := s.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		if err := m.fn(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

func migrate001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE reviews (
			id TEXT PRIMARY KEY,
			message TEXT NOT NULL DEFAULT '',
			files TEXT NOT NULL,
			warnings TEXT,
			status TEXT NOT NULL,
			comments TEXT,
			claimed_by TEXT NOT NULL DEFAULT '',
			resolved_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX idx_reviews_status ON reviews(status, created_at)`,
		`CREATE INDEX idx_reviews_claimed ON reviews(claimed_by) WHERE claimed_by != ''`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

const recordColumns = `id, message, files, warnings, status, comments, claimed_by, resolved_by, created_at, updated_at`

// Create inserts a new record. An existing id is a conflict.
func (s *SQLiteStore) Create(rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record needs an id", ErrInvalidInput)
	}
	if len(rec.Files) == 0 {
		return fmt.Errorf("%w: record needs files", ErrInvalidInput)
	}
	status := rec.Status
	if status == "" {
		status = StatusOpen
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM reviews WHERE id = ?`, rec.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check review %s: %w", rec.ID, err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: review %s already exists", ErrConflict, rec.ID)
	}

	_, err = tx.Exec(
		`INSERT INTO reviews (id, message, files, warnings, status, comments, claimed_by, resolved_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Message, marshalJSON(rec.Files), marshalJSON(rec.Warnings), status,
		marshalJSON(rec.Comments), rec.ClaimedBy, rec.ResolvedBy,
		formatTime(createdAt), formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert review %s: %w", rec.ID, err)
	}
	return tx.Commit()
}

// Submit records the terminal submitted state with its comments. Only an
// open record can be submitted.
func (s *SQLiteStore) Submit(id string, comments []Comment) error {
	if err := ValidateComments(comments); err != nil {
		return err
	}
	if comments == nil {
		comments = []Comment{}
	}
	return s.transition(id, []string{StatusOpen}, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE reviews SET status = ?, comments = ?, updated_at = ? WHERE id = ?`,
			StatusSubmitted, marshalJSON(comments), formatTime(time.Now()), id,
		)
		return err
	})
}

// Cancel records the terminal cancelled state. Only an open record can be
// cancelled.
func (s *SQLiteStore) Cancel(id string) error {
	return s.transition(id, []string{StatusOpen}, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE reviews SET status = ?, updated_at = ? WHERE id = ?`,
			StatusCancelled, formatTime(time.Now()), id,
		)
		return err
	})
}

// Claim marks a submitted record as claimed by an agent. Claiming an
// already-claimed record is a conflict.
func (s *SQLiteStore) Claim(id, by string) error {
	if by == "" {
		return fmt.Errorf("%w: claim needs a claimant", ErrInvalidInput)
	}
	return s.transition(id, []string{StatusSubmitted}, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE reviews SET status = ?, claimed_by = ?, updated_at = ? WHERE id = ?`,
			StatusClaimed, by, formatTime(time.Now()), id,
		)
		return err
	})
}

// Resolve marks a submitted or claimed record as resolved.
func (s *SQLiteStore) Resolve(id, by string) error {
	return s.transition(id, []string{StatusSubmitted, StatusClaimed}, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE reviews SET status = ?, resolved_by = ?, updated_at = ? WHERE id = ?`,
			StatusResolved, by, formatTime(time.Now()), id,
		)
		return err
	})
}

// transition runs update inside a transaction after checking the record
// exists and is in one of the allowed states. A claimed record blocking a
// claim reports a conflict rather than an invalid state.
func (s *SQLiteStore) transition(id string, from []string, update func(tx *sql.Tx) error) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var status string
	err = tx.QueryRow(`SELECT status FROM reviews WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: review %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read review %s: %w", id, err)
	}

	allowed := false
	for _, f := range from {
		if status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		if status == StatusClaimed && len(from) == 1 && from[0] == StatusSubmitted {
			return fmt.Errorf("%w: review %s is already claimed", ErrConflict, id)
		}
		return fmt.Errorf("%w: review %s is %s", ErrInvalidState, id, status)
	}

	if err := update(tx); err != nil {
		return fmt.Errorf("update review %s: %w", id, err)
	}
	return tx.Commit()
}

// Get retrieves a single record by id.
func (s *SQLiteStore) Get(id string) (*Record, error) {
	row := s.conn.QueryRow(`SELECT `+recordColumns+` FROM reviews WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: review %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get review %s: %w", id, err)
	}
	return rec, nil
}

// List returns records newest first, optionally filtered by status and
// claimant.
func (s *SQLiteStore) List(q ListQuery) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM reviews WHERE 1=1`
	var args []any
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, q.Status)
	}
	if q.ClaimedBy != "" {
		query += ` AND claimed_by = ?`
		args = append(args, q.ClaimedBy)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(scanner interface{ Scan(...any) error }) (*Record, error) {
	var (
		rec                       Record
		files, warnings, comments sql.NullString
		createdAt, updatedAt      string
	)
	err := scanner.Scan(&rec.ID, &rec.Message, &files, &warnings, &rec.Status,
		&comments, &rec.ClaimedBy, &rec.ResolvedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(files, &rec.Files); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	if err := unmarshalJSON(warnings, &rec.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	if err := unmarshalJSON(comments, &rec.Comments); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}

func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func unmarshalJSON[T any](src sql.NullString, dst *T) error {
	if !src.Valid || src.String == "" || src.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
