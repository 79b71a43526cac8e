package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"call-replay-analyzer/call"
)

const resultsFile = "analyzed_calls.json"

// JSONStore keeps every analysis record in a single JSON array file under
// its data directory. Transcripts and pipeline results get one file each.
//
// Append is a whole-file read-modify-write with no lock, so two processes
// appending to the same directory can lose records. The analyzer runs as a
// single process and serializes writes through one store instance.
type JSONStore struct {
	dir string
	log logrus.FieldLogger
}

func NewJSONStore(dir string, log logrus.FieldLogger) (*JSONStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("json store: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("json store: create data directory: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &JSONStore{dir: dir, log: log}, nil
}

func (s *JSONStore) resultsPath() string {
	return filepath.Join(s.dir, resultsFile)
}

// loadAll reads the full collection from disk. A missing file is an empty
// collection. A corrupt file is logged and treated as empty, so the next
// append starts the collection over rather than failing every write.
func (s *JSONStore) loadAll() []Record {
	data, err := os.ReadFile(s.resultsPath())
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).Warn("store: read results file")
		}
		return nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.WithError(err).Warn("store: results file corrupt, starting over")
		return nil
	}
	return records
}

func (s *JSONStore) writeAll(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("json store: encode records: %w", err)
	}
	if err := os.WriteFile(s.resultsPath(), data, 0o644); err != nil {
		return fmt.Errorf("json store: write results file: %w", err)
	}
	return nil
}

func (s *JSONStore) Append(rec *Record) error {
	if rec.Timestamp == "" {
		rec.Timestamp = nowTimestamp()
	}
	records := s.loadAll()
	records = append(records, *rec)
	return s.writeAll(records)
}

func (s *JSONStore) Query(f Filter) ([]Record, error) {
	return applyFilter(s.loadAll(), f), nil
}

func (s *JSONStore) Stats() (*Stats, error) {
	return computeStats(s.loadAll()), nil
}

func (s *JSONStore) Clear() error {
	err := os.Remove(s.resultsPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("json store: clear: %w", err)
	}
	return nil
}

func (s *JSONStore) Backup(path string) (string, error) {
	if path == "" {
		stamp := time.Now().UTC().Format("20060102_150405")
		path = filepath.Join(s.dir, fmt.Sprintf("analyzed_calls_backup_%s.json", stamp))
	}
	data, err := os.ReadFile(s.resultsPath())
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Warn("store: nothing to back up")
			return "", fmt.Errorf("json store: backup: no results file exists")
		}
		return "", fmt.Errorf("json store: backup read: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("json store: backup write: %w", err)
	}
	return path, nil
}

func (s *JSONStore) SaveTranscript(t *call.Transcript) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("json store: encode transcript: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("transcript_%s.json", sanitizeID(t.CallID)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("json store: write transcript: %w", err)
	}
	return nil
}

func (s *JSONStore) SavePipelineResult(pr *call.PipelineResult) error {
	data, err := json.MarshalIndent(pr, "", "  ")
	if err != nil {
		return fmt.Errorf("json store: encode pipeline result: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("pipeline_%s.json", sanitizeID(pr.PipelineID)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("json store: write pipeline result: %w", err)
	}
	return nil
}

func (s *JSONStore) Close() error { return nil }

// sanitizeID keeps per-call filenames inside the data directory regardless
// of what characters arrive in a call id.
func sanitizeID(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
