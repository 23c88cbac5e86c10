package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patrykstefanski/async-bench/internal/metrics"
	"github.com/patrykstefanski/async-bench/internal/model"

	_ "modernc.org/sqlite"
)

const createResultsTable = `
CREATE TABLE IF NOT EXISTS results (
    id          TEXT PRIMARY KEY,
    suite       TEXT NOT NULL,
    server      TEXT NOT NULL,
    mode        TEXT NOT NULL,
    benchmark   TEXT NOT NULL,
    kind        TEXT NOT NULL,
    workers     INTEGER NOT NULL,
    conns       INTEGER NOT NULL,
    reqs        INTEGER NOT NULL,
    delay_ns    INTEGER NOT NULL,
    requests    INTEGER NOT NULL,
    elapsed_ns  INTEGER NOT NULL,
    rate        REAL NOT NULL,
    latency     TEXT,
    started_at  DATETIME NOT NULL
)`

const createSuiteIndex = `CREATE INDEX IF NOT EXISTS results_suite ON results (suite, started_at)`

const selectColumns = `id, suite, server, mode, benchmark, kind, workers, conns, reqs,
	delay_ns, requests, elapsed_ns, rate, latency, started_at`

// ErrNotFound is returned when a result is not found.
var ErrNotFound = errors.New("result not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and creates the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createResultsTable, createSuiteIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult inserts r. A result with the same ID must not exist yet.
func (s *SQLiteStore) SaveResult(ctx context.Context, r *model.Result) error {
	var latency sql.NullString
	if r.Latency != nil {
		data, err := json.Marshal(r.Latency)
		if err != nil {
			return fmt.Errorf("encode latency report: %w", err)
		}
		latency = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (
			id, suite, server, mode, benchmark, kind, workers, conns, reqs,
			delay_ns, requests, elapsed_ns, rate, latency, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Suite, r.Server, r.Mode, r.Benchmark, r.Kind, r.Workers, r.Conns, r.Reqs,
		int64(r.Delay), r.Requests, int64(r.Elapsed), r.Rate, latency, r.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetResult retrieves a result by ID.
func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*model.Result, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM results WHERE id = ?`, id)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return r, nil
}

// ListResults returns results ordered by started_at DESC.
func (s *SQLiteStore) ListResults(ctx context.Context, suite string, limit int) ([]*model.Result, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT ` + selectColumns + ` FROM results`
	args := []any{}
	if suite != "" {
		query += ` WHERE suite = ?`
		args = append(args, suite)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []*model.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	return results, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (*model.Result, error) {
	var (
		r         model.Result
		delayNS   int64
		elapsedNS int64
		latency   sql.NullString
		startedAt time.Time
	)

	if err := sc.Scan(
		&r.ID, &r.Suite, &r.Server, &r.Mode, &r.Benchmark, &r.Kind, &r.Workers, &r.Conns, &r.Reqs,
		&delayNS, &r.Requests, &elapsedNS, &r.Rate, &latency, &startedAt,
	); err != nil {
		return nil, err
	}

	r.Delay = time.Duration(delayNS)
	r.Elapsed = time.Duration(elapsedNS)
	r.StartedAt = startedAt

	if latency.Valid {
		r.Latency = &metrics.LatencyReport{}
		if err := json.Unmarshal([]byte(latency.String), r.Latency); err != nil {
			return nil, fmt.Errorf("decode latency report: %w", err)
		}
	}

	return &r, nil
}
