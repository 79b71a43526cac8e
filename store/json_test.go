package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"call-replay-analyzer/call"
	"call-replay-analyzer/logger"
)

func newJSONTestStore(t *testing.T) *JSONStore {
	t.Helper()
	s, err := NewJSONStore(t.TempDir(), logger.Nop())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	return s
}

func rec(callID string, status call.Status, ts string) *Record {
	return &Record{
		AnalysisResponse: call.AnalysisResponse{CallID: callID, Status: status},
		Timestamp:        ts,
	}
}

func TestJSONStore_AppendAssignsTimestamp(t *testing.T) {
	s := newJSONTestStore(t)

	if err := s.Append(rec("call-1", call.StatusAnalyzed, "")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := s.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Timestamp == "" {
		t.Error("timestamp not assigned on append")
	}
	if !strings.HasSuffix(records[0].Timestamp, "Z") {
		t.Errorf("timestamp %q is not UTC Z-suffixed", records[0].Timestamp)
	}
	if _, err := parseTimestamp(records[0].Timestamp); err != nil {
		t.Errorf("assigned timestamp %q does not parse: %v", records[0].Timestamp, err)
	}
}

func TestJSONStore_AppendPreservesExplicitTimestamp(t *testing.T) {
	s := newJSONTestStore(t)

	if err := s.Append(rec("call-1", call.StatusAnalyzed, "2024-03-01T10:00:00Z")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, _ := s.Query(Filter{})
	if records[0].Timestamp != "2024-03-01T10:00:00Z" {
		t.Errorf("timestamp = %q, want explicit value preserved", records[0].Timestamp)
	}
}

func TestJSONStore_QueryNewestFirst(t *testing.T) {
	s := newJSONTestStore(t)
	for _, r := range []*Record{
		rec("a", call.StatusAnalyzed, "2024-01-01T10:00:00Z"),
		rec("b", call.StatusAnalyzed, "2024-01-03T10:00:00Z"),
		rec("c", call.StatusAnalyzed, "2024-01-02T10:00:00Z"),
	} {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	records, err := s.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	got := []string{records[0].CallID, records[1].CallID, records[2].CallID}
	want := []string{"b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

// The limit is applied to the filtered set in storage order, before the
// newest-first sort. With three records appended oldest, newest, middle and
// limit 2, the result is the first two stored records sorted, not the two
// newest overall.
func TestJSONStore_LimitAppliedBeforeSort(t *testing.T) {
	s := newJSONTestStore(t)
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
		t.Errorf("got [%s %s], want [newest old]: limit must truncate the stored order before sorting",
			records[0].CallID, records[1].CallID)
	}
}

func TestJSONStore_QueryFilters(t *testing.T) {
	s := newJSONTestStore(t)
	for _, r := range []*Record{
		rec("call-1", call.StatusAnalyzed, "2024-01-01T10:00:00Z"),
		rec("call-2", call.StatusSkipped, "2024-01-02T10:00:00Z"),
		rec("call-1", call.StatusError, "2024-01-03T10:00:00Z"),
		rec("call-3", call.StatusAnalyzed, "2024-01-04T10:00:00Z"),
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
		{"by status", Filter{Status: "analyzed"}, []string{"call-3", "call-1"}},
		{"call id and status", Filter{CallID: "call-1", Status: "error"}, []string{"call-1"}},
		{"start date inclusive", Filter{StartDate: "2024-01-03T10:00:00Z"}, []string{"call-3", "call-1"}},
		{"end date inclusive", Filter{EndDate: "2024-01-02T10:00:00Z"}, []string{"call-2", "call-1"}},
		{"date window", Filter{StartDate: "2024-01-02T00:00:00Z", EndDate: "2024-01-03T23:59:59Z"}, []string{"call-1", "call-2"}},
		{"no match", Filter{CallID: "missing"}, nil},
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

func TestJSONStore_DateFilterSkipsMalformedTimestamps(t *testing.T) {
	s := newJSONTestStore(t)
	for _, r := range []*Record{
		rec("good", call.StatusAnalyzed, "2024-01-02T10:00:00Z"),
		rec("bad", call.StatusAnalyzed, "not-a-timestamp"),
		rec("zoneless", call.StatusAnalyzed, "2024-01-02T12:00:00"),
	} {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	records, err := s.Query(Filter{StartDate: "2024-01-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (malformed timestamp dropped)", len(records))
	}
	for _, r := range records {
		if r.CallID == "bad" {
			t.Error("record with malformed timestamp survived the date filter")
		}
	}

	// Without a date filter the malformed record still shows up.
	records, _ = s.Query(Filter{})
	if len(records) != 3 {
		t.Errorf("got %d records without date filter, want 3", len(records))
	}
}

func TestJSONStore_QueryIsIdempotent(t *testing.T) {
	s := newJSONTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Append(rec("call-1", call.StatusAnalyzed, "")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	first, _ := s.Query(Filter{})
	second, _ := s.Query(Filter{})
	if len(first) != 3 || len(second) != 3 {
		t.Errorf("repeated queries returned %d then %d records, want 3 both times", len(first), len(second))
	}
}

// A second store instance pointed at the same directory sees prior appends
// and extends the collection rather than replacing it.
func TestJSONStore_AppendRebasesOnDiskState(t *testing.T) {
	dir := t.TempDir()
	first, err := NewJSONStore(dir, logger.Nop())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	if err := first.Append(rec("call-1", call.StatusAnalyzed, "")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	second, err := NewJSONStore(dir, logger.Nop())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	if err := second.Append(rec("call-2", call.StatusSkipped, "")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, _ := first.Query(Filter{})
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 after cross-instance appends", len(records))
	}
}

func TestJSONStore_CorruptFileStartsOver(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir, logger.Nop())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, resultsFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := s.Query(Filter{})
	if err != nil {
		t.Fatalf("Query on corrupt file: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records from corrupt file, want 0", len(records))
	}

	if err := s.Append(rec("call-1", call.StatusAnalyzed, "")); err != nil {
		t.Fatalf("Append after corruption: %v", err)
	}
	records, _ = s.Query(Filter{})
	if len(records) != 1 {
		t.Errorf("got %d records after re-append, want 1", len(records))
	}
}

func TestJSONStore_Stats(t *testing.T) {
	s := newJSONTestStore(t)

	empty, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if empty.TotalAnalyses != 0 || empty.DateRange != nil {
		t.Errorf("empty stats = %+v, want zero totals and nil date range", empty)
	}

	for _, r := range []*Record{
		rec("call-1", call.StatusAnalyzed, "2024-01-01T10:00:00Z"),
		rec("call-2", call.StatusSkipped, "2024-01-04T10:00:00Z"),
		rec("call-1", call.StatusError, "2024-01-03T10:00:00Z"),
	} {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalAnalyses != 3 {
		t.Errorf("TotalAnalyses = %d, want 3", st.TotalAnalyses)
	}
	if st.UniqueCalls != 2 {
		t.Errorf("UniqueCalls = %d, want 2", st.UniqueCalls)
	}
	if st.StatusBreakdown["analyzed"] != 1 || st.StatusBreakdown["skipped"] != 1 || st.StatusBreakdown["error"] != 1 {
		t.Errorf("StatusBreakdown = %v", st.StatusBreakdown)
	}
	if st.DateRange == nil {
		t.Fatal("DateRange is nil")
	}
	if st.DateRange.Earliest != "2024-01-01T10:00:00Z" || st.DateRange.Latest != "2024-01-04T10:00:00Z" {
		t.Errorf("DateRange = %+v", st.DateRange)
	}
	if st.DateRange.SpanDays != 3 {
		t.Errorf("SpanDays = %d, want 3", st.DateRange.SpanDays)
	}
	if len(st.CallIDs) != 2 || st.CallIDs[0] != "call-1" || st.CallIDs[1] != "call-2" {
		t.Errorf("CallIDs = %v, want first-seen order [call-1 call-2]", st.CallIDs)
	}
}

func TestJSONStore_ClearIsIdempotent(t *testing.T) {
	s := newJSONTestStore(t)
	if err := s.Append(rec("call-1", call.StatusAnalyzed, "")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}

	records, _ := s.Query(Filter{})
	if len(records) != 0 {
		t.Errorf("got %d records after Clear, want 0", len(records))
	}
}

func TestJSONStore_Backup(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir, logger.Nop())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	if err := s.Append(rec("call-1", call.StatusAnalyzed, "2024-01-01T10:00:00Z")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	path, err := s.Backup("")
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("default backup path %q not in data directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("backup is not a record array: %v", err)
	}
	if len(records) != 1 || records[0].CallID != "call-1" {
		t.Errorf("backup records = %+v", records)
	}
}

func TestJSONStore_BackupFailsWithNothingToCopy(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir, logger.Nop())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}

	path, err := s.Backup("")
	if err == nil {
		t.Fatalf("Backup succeeded with no results file, returned %q", path)
	}
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), "backup") {
			t.Errorf("backup file %q written despite empty collection", e.Name())
		}
	}

	// Clearing an existing collection puts the store back in the
	// nothing-to-copy state.
	if err := s.Append(rec("call-1", call.StatusAnalyzed, "")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Backup(""); err != nil {
		t.Fatalf("Backup with data: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := s.Backup(""); err == nil {
		t.Error("Backup succeeded after Clear removed the collection")
	}
}

func TestJSONStore_SaveTranscriptOverwrites(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir, logger.Nop())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}

	tr := &call.Transcript{
		CallID: "call-9",
		Dialog: []call.DialogueTurn{{Speaker: call.SpeakerUser, Text: "hello"}},
	}
	if err := s.SaveTranscript(tr); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	tr.Dialog = append(tr.Dialog, call.DialogueTurn{Speaker: call.SpeakerBot, Text: "hi"})
	if err := s.SaveTranscript(tr); err != nil {
		t.Fatalf("second SaveTranscript: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "transcript_call-9.json"))
	if err != nil {
		t.Fatalf("read transcript file: %v", err)
	}
	var loaded call.Transcript
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("decode transcript file: %v", err)
	}
	if len(loaded.Dialog) != 2 {
		t.Errorf("transcript has %d turns, want 2 (overwrite, not append)", len(loaded.Dialog))
	}
}

func TestJSONStore_SaveTranscriptSanitizesCallID(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir, logger.Nop())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}

	tr := &call.Transcript{CallID: "../escape/attempt"}
	if err := s.SaveTranscript(tr); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "transcript_") {
			found = true
			if strings.ContainsAny(e.Name(), "/\\") {
				t.Errorf("transcript filename %q contains path separators", e.Name())
			}
		}
	}
	if !found {
		t.Error("transcript file not written inside the data directory")
	}
}

func TestJSONStore_SavePipelineResult(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir, logger.Nop())
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}

	pr := &call.PipelineResult{PipelineID: "pipeline_20240101_100000", InputCount: 2}
	if err := s.SavePipelineResult(pr); err != nil {
		t.Fatalf("SavePipelineResult: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "pipeline_pipeline_20240101_100000.json"))
	if err != nil {
		t.Fatalf("read pipeline file: %v", err)
	}
	var loaded call.PipelineResult
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("decode pipeline file: %v", err)
	}
	if loaded.InputCount != 2 {
		t.Errorf("InputCount = %d, want 2", loaded.InputCount)
	}
}
