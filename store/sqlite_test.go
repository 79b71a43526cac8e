package store

import (
	"os"
	"path/filepath"
	"testing"

	"call-replay-analyzer/call"
	"call-replay-analyzer/logger"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "analyzer.db"), logger.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_AppendAndQueryRoundTrip(t *testing.T) {
	s := newSQLiteTestStore(t)

	in := &Record{
		AnalysisResponse: call.AnalysisResponse{
			CallID: "call-1",
			Status: call.StatusAnalyzed,
			Analysis: &call.AnalysisResult{
				Intent:          "order food",
				IssueDetected:   true,
				IssueReason:     "bot gave wrong info",
				ConfidenceScore: 0.85,
			},
		},
		Timestamp: "2024-02-01T09:00:00Z",
	}
	if err := s.Append(in); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := s.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	got := records[0]
	if got.CallID != "call-1" || got.Status != call.StatusAnalyzed || got.Timestamp != "2024-02-01T09:00:00Z" {
		t.Errorf("record = %+v", got)
	}
	if got.Analysis == nil {
		t.Fatal("analysis payload lost in round trip")
	}
	if got.Analysis.Intent != "order food" || !got.Analysis.IssueDetected || got.Analysis.ConfidenceScore != 0.85 {
		t.Errorf("analysis = %+v", got.Analysis)
	}
}

func TestSQLiteStore_LimitAppliedBeforeSort(t *testing.T) {
	s := newSQLiteTestStore(t)
	for _, r := range []*Record{
		rec("old", call.StatusAnalyzed, "2024-01-01T10:00:00Z"),
		rec("newest", call.StatusAnalyzed, "2024-01-05T10:00:00Z"),
		rec("middle", call.StatusAnalyzed, "2024-01-03T10:00:00Z"),
	} {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	records, err := s.Query(Filter{Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].CallID != "newest" || records[1].CallID != "old" {
		t.Errorf("got [%s %s], want [newest old]: both backends share limit-before-sort",
			records[0].CallID, records[1].CallID)
	}
}

func TestSQLiteStore_FiltersMatchJSONBackend(t *testing.T) {
	s := newSQLiteTestStore(t)
	for _, r := range []*Record{
		rec("call-1", call.StatusAnalyzed, "2024-01-01T10:00:00Z"),
		rec("call-2", call.StatusSkipped, "2024-01-02T10:00:00Z"),
		rec("call-1", call.StatusError, "2024-01-03T10:00:00Z"),
	} {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
	}{
		{"by call id", Filter{CallID: "call-1"}, []string{"call-1", "call-1"}},
		{"by status", Filter{Status: "skipped"}, []string{"call-2"}},
		{"date window", Filter{StartDate: "2024-01-02T00:00:00Z", EndDate: "2024-01-02T23:59:59Z"}, []string{"call-2"}},
		{"no match", Filter{Status: "analyzed", CallID: "call-2"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := s.Query(tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(records) != len(tt.wantIDs) {
				t.Fatalf("got %d records, want %d", len(records), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if records[i].CallID != id {
					t.Errorf("records[%d].CallID = %q, want %q", i, records[i].CallID, id)
				}
			}
		})
	}
}

func TestSQLiteStore_PersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyzer.db")

	first, err := NewSQLiteStore(path, logger.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := first.Append(rec("call-1", call.StatusAnalyzed, "")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := NewSQLiteStore(path, logger.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	records, err := second.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 || records[0].CallID != "call-1" {
		t.Errorf("records after reopen = %+v, want the appended record", records)
	}
}

func TestSQLiteStore_StatsAndClear(t *testing.T) {
	s := newSQLiteTestStore(t)
	for _, r := range []*Record{
		rec("call-1", call.StatusAnalyzed, "2024-01-01T10:00:00Z"),
		rec("call-2", call.StatusError, "2024-01-02T10:00:00Z"),
	} {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalAnalyses != 2 || st.UniqueCalls != 2 {
		t.Errorf("stats = %+v", st)
	}
	if st.StatusBreakdown["analyzed"] != 1 || st.StatusBreakdown["error"] != 1 {
		t.Errorf("StatusBreakdown = %v", st.StatusBreakdown)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	st, _ = s.Stats()
	if st.TotalAnalyses != 0 {
		t.Errorf("TotalAnalyses after Clear = %d, want 0", st.TotalAnalyses)
	}

	// Clear leaves transcripts and pipeline results alone.
	if err := s.SaveTranscript(&call.Transcript{CallID: "kept"}); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM transcripts").Scan(&n); err != nil {
		t.Fatalf("count transcripts: %v", err)
	}
	if n != 1 {
		t.Errorf("transcripts after Clear = %d, want 1", n)
	}
}

func TestSQLiteStore_SaveTranscriptUpserts(t *testing.T) {
	s := newSQLiteTestStore(t)

	tr := &call.Transcript{CallID: "call-7", Dialog: []call.DialogueTurn{{Speaker: call.SpeakerUser, Text: "hi"}}}
	if err := s.SaveTranscript(tr); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	tr.Dialog = append(tr.Dialog, call.DialogueTurn{Speaker: call.SpeakerBot, Text: "hello"})
	if err := s.SaveTranscript(tr); err != nil {
		t.Fatalf("second SaveTranscript: %v", err)
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM transcripts WHERE call_id = ?", "call-7").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d rows for call-7, want 1 (upsert)", n)
	}
}

func TestSQLiteStore_Backup(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "analyzer.db"), logger.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	if _, err := s.Backup(""); err == nil {
		t.Error("Backup succeeded with no analyses to copy")
	}

	if err := s.Append(rec("call-1", call.StatusAnalyzed, "")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	path, err := s.Backup("")
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}

	backup, err := NewSQLiteStore(path, logger.Nop())
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer backup.Close()
	records, err := backup.Query(Filter{})
	if err != nil {
		t.Fatalf("query backup: %v", err)
	}
	if len(records) != 1 || records[0].CallID != "call-1" {
		t.Errorf("backup records = %+v", records)
	}
}
