// Package store persists graded calls in SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite

	"call-grader-go/internal/aggregator"
	"call-grader-go/internal/grading"
)

// ErrNotFound is returned by Get for an unknown record id.
var ErrNotFound = errors.New("store: record not found")

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Record is one graded call.
type Record struct {
	ID         string             `json:"id"`
	Filename   string             `json:"filename"`
	GraderType string             `json:"grader_type"`
	NatureCode string             `json:"nature_code,omitempty"`
	Percentage float64            `json:"grade_percentage"`
	Grades     grading.Report     `json:"grades"`
	Summary    aggregator.Summary `json:"summary"`
	CreatedAt  time.Time          `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

// Open opens a DB and ensures schema exists. An empty dsn picks a local
// default for the driver.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:grader.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/grader?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts rec, assigning an id and creation time when unset.
func (s *Store) Save(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	grades, err := json.Marshal(rec.Grades)
	if err != nil {
		return Record{}, err
	}
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return Record{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO graded_calls
		(id,filename,grader_type,nature_code,grade_percentage,grades_json,summary_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.Filename, rec.GraderType, rec.NatureCode, rec.Percentage,
		string(grades), string(summary), rec.CreatedAt.UnixMilli())
	if err != nil {
		return Record{}, fmt.Errorf("store: insert: %w", err)
	}
	return rec, nil
}

const selectColumns = `SELECT id,filename,grader_type,nature_code,grade_percentage,grades_json,summary_json,created_at FROM graded_calls`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec             Record
		grades, summary string
		created         int64
	)
	if err := row.Scan(&rec.ID, &rec.Filename, &rec.GraderType, &rec.NatureCode, &rec.Percentage, &grades, &summary, &created); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(grades), &rec.Grades); err != nil {
		return Record{}, fmt.Errorf("store: record %s grades: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(summary), &rec.Summary); err != nil {
		return Record{}, fmt.Errorf("store: record %s summary: %w", rec.ID, err)
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	return rec, nil
}

func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// List returns the newest records first. limit <= 0 means 50.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS graded_calls (
  id TEXT PRIMARY KEY,
  filename TEXT NOT NULL DEFAULT '',
  grader_type TEXT NOT NULL,
  nature_code TEXT NOT NULL DEFAULT '',
  grade_percentage REAL NOT NULL DEFAULT 0,
  grades_json TEXT NOT NULL,
  summary_json TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS graded_calls_created_at ON graded_calls (created_at);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS graded_calls (
  id TEXT PRIMARY KEY,
  filename TEXT NOT NULL DEFAULT '',
  grader_type TEXT NOT NULL,
  nature_code TEXT NOT NULL DEFAULT '',
  grade_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
  grades_json TEXT NOT NULL,
  summary_json TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS graded_calls_created_at ON graded_calls (created_at);
`
