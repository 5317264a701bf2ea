// Package diag persists memory-subsystem diagnostics — cycle-check results
// and leak censuses — to a SQLite history for post-hoc analysis of
// long-running programs.
package diag

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/velalang/vela/vm"
)

var log = commonlog.GetLogger("vela.diag")

// Store handles SQLite storage for diagnostics history.
type Store struct {
	db     *sql.DB
	dbPath string
}

// CycleCheckRecord is one row of cycle-check history.
type CycleCheckRecord struct {
	Timestamp      time.Time
	LiveObjects    int
	CyclesDetected int
	ObjectsFreed   int
	Duration       time.Duration
}

// Open creates or opens the diagnostics database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening diagnostics database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cycle_checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		live_objects INTEGER NOT NULL,
		cycles_detected INTEGER NOT NULL,
		objects_freed INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cycle_checks table: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS leak_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		total INTEGER NOT NULL,
		by_kind JSON NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating leak_reports table: %w", err)
	}

	return &Store{db: db, dbPath: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordCycleCheck appends one cycle-check result to the history.
func (s *Store) RecordCycleCheck(rec CycleCheckRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO cycle_checks (timestamp, live_objects, cycles_detected, objects_freed, duration_ns)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Timestamp.Format(time.RFC3339Nano),
		rec.LiveObjects, rec.CyclesDetected, rec.ObjectsFreed, rec.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("recording cycle check: %w", err)
	}
	return nil
}

// RecentCycleChecks returns up to limit history rows, newest first.
func (s *Store) RecentCycleChecks(limit int) ([]CycleCheckRecord, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, live_objects, cycles_detected, objects_freed, duration_ns
		 FROM cycle_checks ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying cycle checks: %w", err)
	}
	defer rows.Close()

	var recs []CycleCheckRecord
	for rows.Next() {
		var rec CycleCheckRecord
		var ts string
		var durNs int64
		if err := rows.Scan(&ts, &rec.LiveObjects, &rec.CyclesDetected, &rec.ObjectsFreed, &durNs); err != nil {
			return nil, fmt.Errorf("scanning cycle check: %w", err)
		}
		rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing cycle check timestamp: %w", err)
		}
		rec.Duration = time.Duration(durNs)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecordLeakReport appends one leak census to the history.
func (s *Store) RecordLeakReport(report *vm.LeakReport) error {
	byKind, err := json.Marshal(report.ByKind)
	if err != nil {
		return fmt.Errorf("encoding leak census: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO leak_reports (timestamp, total, by_kind) VALUES (?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), report.Total, string(byKind),
	)
	if err != nil {
		return fmt.Errorf("recording leak report: %w", err)
	}
	if report.Total > 0 {
		log.Infof("recorded leak report: %d object(s)", report.Total)
	}
	return nil
}

// LeakReportCount returns the number of recorded leak censuses.
func (s *Store) LeakReportCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM leak_reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting leak reports: %w", err)
	}
	return n, nil
}
