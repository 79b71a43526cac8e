package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"call-replay-analyzer/call"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite via modernc.org/sqlite.
//
// Rows are read back in insertion order and run through the same in-process
// filter as the JSON backend, so both backends answer queries identically,
// including the limit-before-sort behavior.
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  logrus.FieldLogger
}

// NewSQLiteStore opens a SQLite database and initializes the schema.
func NewSQLiteStore(dbPath string, log logrus.FieldLogger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite store: database path is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.WithField("path", dbPath).Info("store: sqlite opened")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS analyses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    call_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    analysis TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_analyses_call_id ON analyses(call_id);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);

CREATE TABLE IF NOT EXISTS transcripts (
    call_id TEXT PRIMARY KEY,
    data TEXT NOT NULL DEFAULT '{}',
    saved_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS pipeline_results (
    pipeline_id TEXT PRIMARY KEY,
    data TEXT NOT NULL DEFAULT '{}',
    saved_at TEXT NOT NULL DEFAULT ''
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Append(rec *Record) error {
	if rec.Timestamp == "" {
		rec.Timestamp = nowTimestamp()
	}

	analysis := ""
	if rec.Analysis != nil {
		data, err := json.Marshal(rec.Analysis)
		if err != nil {
			return fmt.Errorf("sqlite store: encode analysis: %w", err)
		}
		analysis = string(data)
	}

	_, err := s.db.Exec(
		`INSERT INTO analyses (call_id, status, reason, error, analysis, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.CallID, string(rec.Status), rec.Reason, rec.Error, analysis, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: insert analysis: %w", err)
	}
	return nil
}

// loadAll reads every record in insertion order. Narrowing by call id and
// status happens in SQL; date range, limit and sort are shared with the
// JSON backend through applyFilter.
func (s *SQLiteStore) loadAll(f Filter) ([]Record, error) {
	query := "SELECT call_id, status, reason, error, analysis, timestamp FROM analyses"
	var conditions []string
	var args []any

	if f.CallID != "" {
		conditions = append(conditions, "call_id = ?")
		args = append(args, f.CallID)
	}
	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, f.Status)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query analyses: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var status, analysis string
		if err := rows.Scan(&rec.CallID, &status, &rec.Reason, &rec.Error, &analysis, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite store: scan analysis: %w", err)
		}
		rec.Status = call.Status(status)
		if analysis != "" {
			var result call.AnalysisResult
			if err := json.Unmarshal([]byte(analysis), &result); err != nil {
				s.log.WithError(err).WithField("call_id", rec.CallID).Warn("store: corrupt analysis column")
			} else {
				rec.Analysis = &result
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate analyses: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Query(f Filter) ([]Record, error) {
	records, err := s.loadAll(f)
	if err != nil {
		return nil, err
	}
	return applyFilter(records, f), nil
}

func (s *SQLiteStore) Stats() (*Stats, error) {
	records, err := s.loadAll(Filter{})
	if err != nil {
		return nil, err
	}
	return computeStats(records), nil
}

func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM analyses"); err != nil {
		return fmt.Errorf("sqlite store: clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Backup(path string) (string, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM analyses").Scan(&n); err != nil {
		return "", fmt.Errorf("sqlite store: backup: %w", err)
	}
	if n == 0 {
		s.log.Warn("store: nothing to back up")
		return "", fmt.Errorf("sqlite store: backup: no analyses exist")
	}
	if path == "" {
		stamp := time.Now().UTC().Format("20060102_150405")
		ext := filepath.Ext(s.path)
		path = strings.TrimSuffix(s.path, ext) + "_backup_" + stamp + ext
	}
	if _, err := s.db.Exec("VACUUM INTO ?", path); err != nil {
		return "", fmt.Errorf("sqlite store: backup: %w", err)
	}
	return path, nil
}

func (s *SQLiteStore) SaveTranscript(t *call.Transcript) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("sqlite store: encode transcript: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO transcripts (call_id, data, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
		t.CallID, string(data), nowTimestamp(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save transcript: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SavePipelineResult(pr *call.PipelineResult) error {
	data, err := json.Marshal(pr)
	if err != nil {
		return fmt.Errorf("sqlite store: encode pipeline result: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO pipeline_results (pipeline_id, data, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(pipeline_id) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
		pr.PipelineID, string(data), nowTimestamp(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save pipeline result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
