// Package history keeps an audit trail of interpretations and plan runs in
// SQLite.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/executor"
	_ "modernc.org/sqlite"
)

// Record kinds.
const (
	KindInterpretation = "interpretation"
	KindPlanRun        = "plan_run"
)

// Record is one audit entry.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	// Subject is the query for interpretations and the plan name for runs.
	Subject    string        `json:"subject"`
	ResultKind string        `json:"result_kind,omitempty"`
	Command    string        `json:"command,omitempty"`
	Output     string        `json:"output,omitempty"`
	Success    bool          `json:"success"`
	Cached     bool          `json:"cached,omitempty"`
	Error      string        `json:"error,omitempty"`
	RunID      string        `json:"run_id,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Store persists records in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open creates (or opens) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT,
		kind TEXT,
		subject TEXT,
		result_kind TEXT,
		command TEXT,
		output TEXT,
		success INTEGER,
		cached INTEGER,
		error TEXT,
		run_id TEXT,
		duration_ms INTEGER
	);`)
	return err
}

// Save inserts a record.
func (s *Store) Save(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO records
		(timestamp, kind, subject, result_kind, command, output, success, cached, error, run_id, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.Kind,
		rec.Subject,
		rec.ResultKind,
		rec.Command,
		rec.Output,
		boolToInt(rec.Success),
		boolToInt(rec.Cached),
		rec.Error,
		rec.RunID,
		rec.Duration.Milliseconds(),
	)
	return err
}

// SaveInterpretation records an interpretation event.
func (s *Store) SaveInterpretation(ev dragonscale.InterpretationEvent) error {
	rec := Record{
		Kind:       KindInterpretation,
		Subject:    ev.Query,
		ResultKind: string(ev.Result.Kind),
		Output:     ev.Result.Summary(),
		Success:    !ev.Result.IsError(),
		Cached:     ev.Cached,
		Duration:   ev.Duration,
	}
	if cmd, ok := ev.Result.Command(); ok {
		rec.Command = cmd
	}
	if ev.Result.Error != nil {
		rec.Error = ev.Result.Error.Message
	}
	return s.Save(rec)
}

// SavePlanRun records a plan execution event.
func (s *Store) SavePlanRun(ev dragonscale.PlanRunEvent) error {
	rec := Record{
		Kind:    KindPlanRun,
		Subject: ev.PlanName,
		Success: ev.Err == nil,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	if res := ev.Result; res != nil {
		rec.RunID = res.RunID
		rec.Duration = res.Duration()
		rec.Timestamp = res.StartedAt
		rec.Output = res.Output
		if res.Output == "" && len(res.Trace) > 0 {
			rec.Output = executor.Format(res.Results())
		}
		steps := make([]string, 0, len(res.Trace))
		for _, entry := range res.Trace {
			steps = append(steps, fmt.Sprintf("%s:%s", entry.Target, entry.Action))
		}
		rec.Command = strings.Join(steps, " -> ")
	}
	return s.Save(rec)
}

// Records returns entries newest first. A positive limit caps the count and
// a non-empty search filters on subject, command and output.
func (s *Store) Records(limit int, search string) ([]Record, error) {
	var b strings.Builder
	b.WriteString("SELECT timestamp, kind, subject, result_kind, command, output, success, cached, error, run_id, duration_ms FROM records")
	var args []any
	if search != "" {
		b.WriteString(" WHERE subject LIKE ? OR command LIKE ? OR output LIKE ?")
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern, pattern)
	}
	b.WriteString(" ORDER BY id DESC")
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.Query(b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var ts string
		var success, cached int
		var durationMS int64
		if err := rows.Scan(&ts, &rec.Kind, &rec.Subject, &rec.ResultKind, &rec.Command, &rec.Output,
			&success, &cached, &rec.Error, &rec.RunID, &durationMS); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = t
		}
		rec.Success = success == 1
		rec.Cached = cached == 1
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Clear deletes all entries.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM records")
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
