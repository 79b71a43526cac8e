// Package store persists analysis responses, raw transcripts and pipeline
// results. Two backends exist: a single-file JSON collection matching the
// historical storage format, and a SQLite database.
package store

import (
	"sort"
	"time"

	"call-replay-analyzer/call"
)

// Record is one persisted analysis response plus its timestamp. The
// timestamp is assigned at append time when absent and is the sort and
// filter key for queries.
type Record struct {
	call.AnalysisResponse
	Timestamp string `json:"timestamp"`
}

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	StartDate string
	EndDate   string
	CallID    string
	Status    string
	Limit     int
}

// DateRange describes the time span covered by stored records.
type DateRange struct {
	Earliest string `json:"earliest"`
	Latest   string `json:"latest"`
	SpanDays int    `json:"span_days"`
}

// Stats summarizes the stored collection.
type Stats struct {
	TotalAnalyses   int            `json:"total_analyses"`
	DateRange       *DateRange     `json:"date_range"`
	StatusBreakdown map[string]int `json:"status_breakdown"`
	UniqueCalls     int            `json:"unique_calls"`
	CallIDs         []string       `json:"call_ids"`
}

// Store is the persistence interface for the analyzer.
type Store interface {
	// Append adds one record to the collection, assigning a UTC timestamp
	// if the record carries none.
	Append(rec *Record) error
	// Query returns records matching the filter, newest first. The limit is
	// applied to the filtered-but-unsorted set, before sorting; see
	// applyFilter for why this ordering is part of the contract.
	Query(f Filter) ([]Record, error)
	Stats() (*Stats, error)
	// Clear removes all analysis records. Idempotent.
	Clear() error
	// Backup copies the current collection to path, or to a timestamped
	// sibling when path is empty, and returns the backup location. Fails
	// when no collection exists to copy.
	Backup(path string) (string, error)

	// SaveTranscript persists a raw transcript keyed by call id. A later
	// ingestion with the same call id overwrites the prior transcript.
	SaveTranscript(t *call.Transcript) error
	// SavePipelineResult persists one batch pipeline record.
	SavePipelineResult(pr *call.PipelineResult) error

	Close() error
}

// applyFilter implements the shared query semantics for both backends:
// date-range filter (inclusive, records with malformed timestamps silently
// skipped), exact call-id and status match, then limit, then sort by
// timestamp descending.
//
// The limit is deliberately applied before the sort, so a limited result is
// the first N survivors in storage order, not necessarily the newest N.
// Callers depend on this order of operations; do not swap it.
func applyFilter(records []Record, f Filter) []Record {
	filtered := records

	if f.StartDate != "" || f.EndDate != "" {
		filtered = filterByDateRange(filtered, f.StartDate, f.EndDate)
	}
	if f.CallID != "" {
		filtered = keep(filtered, func(r Record) bool { return r.CallID == f.CallID })
	}
	if f.Status != "" {
		filtered = keep(filtered, func(r Record) bool { return string(r.Status) == f.Status })
	}
	if f.Limit > 0 && len(filtered) > f.Limit {
		filtered = filtered[:f.Limit]
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp > filtered[j].Timestamp
	})
	return filtered
}

func keep(records []Record, pred func(Record) bool) []Record {
	out := records[:0:0]
	for _, r := range records {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func filterByDateRange(records []Record, startDate, endDate string) []Record {
	var start, end time.Time
	var hasStart, hasEnd bool
	if startDate != "" {
		if t, err := parseTimestamp(startDate); err == nil {
			start, hasStart = t, true
		}
	}
	if endDate != "" {
		if t, err := parseTimestamp(endDate); err == nil {
			end, hasEnd = t, true
		}
	}

	out := records[:0:0]
	for _, r := range records {
		if r.Timestamp == "" {
			continue
		}
		ts, err := parseTimestamp(r.Timestamp)
		if err != nil {
			continue
		}
		if hasStart && ts.Before(start) {
			continue
		}
		if hasEnd && ts.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// parseTimestamp accepts RFC3339 timestamps (a trailing Z is read as UTC)
// and zone-less ISO-8601 as a fallback.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

// nowTimestamp is the append-time timestamp format: UTC ISO-8601, Z-suffixed.
func nowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// computeStats derives collection statistics from records in storage order.
func computeStats(records []Record) *Stats {
	st := &Stats{
		TotalAnalyses:   len(records),
		StatusBreakdown: make(map[string]int),
	}
	if len(records) == 0 {
		return st
	}

	seen := make(map[string]bool)
	var earliest, latest time.Time
	haveRange := false

	for _, r := range records {
		status := string(r.Status)
		if status == "" {
			status = "unknown"
		}
		st.StatusBreakdown[status]++

		if r.CallID != "" && !seen[r.CallID] {
			seen[r.CallID] = true
			if len(st.CallIDs) < 10 {
				st.CallIDs = append(st.CallIDs, r.CallID)
			}
		}

		if r.Timestamp == "" {
			continue
		}
		ts, err := parseTimestamp(r.Timestamp)
		if err != nil {
			continue
		}
		if !haveRange {
			earliest, latest = ts, ts
			haveRange = true
			continue
		}
		if ts.Before(earliest) {
			earliest = ts
		}
		if ts.After(latest) {
			latest = ts
		}
	}

	st.UniqueCalls = len(seen)
	if haveRange {
		st.DateRange = &DateRange{
			Earliest: earliest.Format(time.RFC3339),
			Latest:   latest.Format(time.RFC3339),
			SpanDays: int(latest.Sub(earliest).Hours() / 24),
		}
	}
	return st
}
