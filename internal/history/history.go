// Package history records every verification run (object hash, verdict,
// diagnostics, duration) to a SQL store selected by DSN scheme: a short
// scheme maps to a database/sql driver name, then sql.Open, Ping, and
// pool-tune. The surface is the one thing a verifier history store needs
// — append a run, list recent runs, fetch one by ID — rather than a
// general Query/Execute/Transaction layer.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"

	"ebpfverify/internal/vdiag"
)

// Verdict is the outcome of one verification run.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
	VerdictError  Verdict = "error"
)

// Run is one completed verification, as persisted to the history store.
type Run struct {
	ID          string
	ObjectHash  string
	ObjectPath  string
	Verdict     Verdict
	Diagnostics []vdiag.Diagnostic
	Duration    time.Duration
	StartedAt   time.Time
}

// Store wraps a pooled *sql.DB selected by DSN scheme (sqlite://,
// postgres://, mysql://, sqlserver://).
type Store struct {
	db     *sql.DB
	driver string
}

func driverForScheme(scheme string) (string, error) {
	switch scheme {
	case "sqlite", "sqlite3", "":
		return "sqlite3", nil
	case "postgres", "postgresql":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlserver", "mssql":
		return "sqlserver", nil
	default:
		return "", fmt.Errorf("history: unsupported DSN scheme %q", scheme)
	}
}

// Open connects to dsn and ensures the runs table exists. An empty dsn is
// replaced by the file name ebpfverify_history.db, whichever scheme was
// given.
func Open(scheme, dsn string) (*Store, error) {
	driver, err := driverForScheme(scheme)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		dsn = "ebpfverify_history.db"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping %s: %w", driver, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, driver: driver}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	object_hash TEXT NOT NULL,
	object_path TEXT NOT NULL,
	verdict TEXT NOT NULL,
	diagnostics TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	started_at TIMESTAMP NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("history: create schema: %w", err)
	}
	return nil
}

// Record appends a completed run and returns its ID, generating a fresh
// UUID when r.ID is empty.
func (s *Store) Record(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, object_hash, object_path, verdict, diagnostics, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ObjectHash, r.ObjectPath, string(r.Verdict), encodeDiagnostics(r.Diagnostics),
		r.Duration.Milliseconds(), r.StartedAt)
	if err != nil {
		return "", fmt.Errorf("history: record run: %w", err)
	}
	return r.ID, nil
}

// Recent returns the most recent n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, object_hash, object_path, verdict, diagnostics, duration_ms, started_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ByID fetches a single run by its UUID.
func (s *Store) ByID(ctx context.Context, id string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, object_hash, object_path, verdict, diagnostics, duration_ms, started_at
		 FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("history: query by id: %w", err)
	}
	defer rows.Close()
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("history: no run with id %q", id)
	}
	return &runs[0], nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var out []Run
	for rows.Next() {
		var r Run
		var verdict, diagRaw string
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.ObjectHash, &r.ObjectPath, &verdict, &diagRaw, &durationMs, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.Verdict = Verdict(verdict)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.Diagnostics = decodeDiagnostics(diagRaw)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// encodeDiagnostics/decodeDiagnostics use a flat line format (one
// diagnostic per line, fields separated by tabs) rather than JSON: the history store only ever needs to redisplay
// diagnostics, never query into their fields, so a minimal custom codec
// avoids pulling in encoding/json purely for round-tripping one struct.
func encodeDiagnostics(ds []vdiag.Diagnostic) string {
	var out string
	for i, d := range ds {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("%s\t%s\t%s\t%s\t%d", d.Severity, d.Kind, d.Section, d.Message, d.Insn)
	}
	return out
}

func decodeDiagnostics(raw string) []vdiag.Diagnostic {
	if raw == "" {
		return nil
	}
	var out []vdiag.Diagnostic
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == '\n' {
			line := raw[start:i]
			if d, ok := parseDiagnosticLine(line); ok {
				out = append(out, d)
			}
			start = i + 1
		}
	}
	return out
}

func parseDiagnosticLine(line string) (vdiag.Diagnostic, bool) {
	fields := splitTab(line)
	if len(fields) != 5 {
		return vdiag.Diagnostic{}, false
	}
	var insn int
	fmt.Sscanf(fields[4], "%d", &insn)
	return vdiag.Diagnostic{
		Severity: vdiag.Severity(fields[0]),
		Kind:     fields[1],
		Section:  fields[2],
		Message:  fields[3],
		Insn:     insn,
	}, true
}

func splitTab(s string) []string {
	var fields []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\t' {
			fields = append(fields, s[start:i])
			start = i + 1
		}
	}
	return fields
}
