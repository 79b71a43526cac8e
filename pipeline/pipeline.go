// Package pipeline orchestrates batch analysis runs and asynchronous
// single-call ingestion on a shared fixed-size worker pool.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"call-replay-analyzer/analyzer"
	"call-replay-analyzer/call"
	"call-replay-analyzer/store"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
)

// noSummaryMessage is the synthesized summary for a batch with nothing to
// summarize.
const noSummaryMessage = "No analysis results to summarize"

// Config sizes the worker pool.
type Config struct {
	Workers   int
	QueueSize int
}

// Orchestrator runs batches and background ingestion analyses. All work,
// batch and background alike, goes through one task queue consumed by a
// fixed number of workers, so concurrency is bounded in one place.
type Orchestrator struct {
	analyzer *analyzer.Analyzer
	store    store.Store
	log      logrus.FieldLogger

	tasks   chan func()
	workers sync.WaitGroup
	pending sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func New(a *analyzer.Analyzer, st store.Store, cfg Config, log logrus.FieldLogger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	o := &Orchestrator{
		analyzer: a,
		store:    st,
		log:      log,
		tasks:    make(chan func(), cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		o.workers.Add(1)
		go o.worker()
	}
	return o
}

func (o *Orchestrator) worker() {
	defer o.workers.Done()
	for task := range o.tasks {
		task()
		o.pending.Done()
	}
}

// submit queues one task. Returns false after Stop.
func (o *Orchestrator) submit(task func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return false
	}
	o.pending.Add(1)
	o.tasks <- task
	return true
}

// Drain blocks until every queued task has finished. Workers stay alive.
func (o *Orchestrator) Drain() {
	o.pending.Wait()
}

// Stop drains outstanding work and shuts the pool down. No work can be
// submitted afterwards.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	o.pending.Wait()
	close(o.tasks)
	o.workers.Wait()
}

// RunBatch analyzes every transcript on the pool and assembles one pipeline
// record. Results come back in input order regardless of completion order.
// Per-transcript failures are recorded in their slot and never abort the
// batch; only a failure to persist the finished record turns the whole run
// into an error-shaped result.
func (o *Orchestrator) RunBatch(ctx context.Context, transcripts []*call.Transcript) *call.PipelineResult {
	started := time.Now().UTC()
	pipelineID := "pipeline_" + started.Format("20060102_150405")

	log := o.log.WithField("pipeline_id", pipelineID)
	log.WithField("input_count", len(transcripts)).Info("pipeline: batch started")

	results := make([]call.AnalysisResponse, len(transcripts))
	var batch sync.WaitGroup
	for i, t := range transcripts {
		i, t := i, t
		batch.Add(1)
		if !o.submit(func() {
			defer batch.Done()
			results[i] = *o.analyzer.AnalyzeTranscript(ctx, t)
		}) {
			batch.Done()
			results[i] = call.AnalysisResponse{
				CallID: t.CallID,
				Status: call.StatusError,
				Error:  "pipeline stopped",
			}
		}
	}
	batch.Wait()

	fixes := o.generateFixes(ctx, results)
	summary := o.generateSummary(ctx, results)

	stats := call.PipelineStats{Stats: analyzer.ComputeStats(results)}
	if stats.TotalCalls > 0 {
		stats.ProcessingEfficiency = float64(stats.Analyzed+stats.Skipped) / float64(stats.TotalCalls)
	}

	record := &call.PipelineResult{
		PipelineID:      pipelineID,
		Timestamp:       started.Format(time.RFC3339),
		InputCount:      len(transcripts),
		AnalysisResults: results,
		FixResults:      fixes,
		Summary:         summary,
		Statistics:      stats,
	}

	if err := o.store.SavePipelineResult(record); err != nil {
		log.WithError(err).Error("pipeline: persist batch record")
		return &call.PipelineResult{PipelineID: pipelineID, Error: err.Error()}
	}

	log.WithFields(logrus.Fields{
		"analyzed": stats.Analyzed,
		"skipped":  stats.Skipped,
		"errors":   stats.Errors,
	}).Info("pipeline: batch finished")
	return record
}

// generateFixes runs fix generation concurrently for every analyzed response
// that detected an issue. Keyed by call id.
func (o *Orchestrator) generateFixes(ctx context.Context, results []call.AnalysisResponse) map[string]any {
	fixes := make(map[string]any)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, r := range results {
		if r.Status != call.StatusAnalyzed || r.Analysis == nil || !r.Analysis.IssueDetected {
			continue
		}
		r := r
		wg.Add(1)
		if !o.submit(func() {
			defer wg.Done()
			doc := o.analyzer.GenerateFixes(ctx, r.Analysis)
			mu.Lock()
			fixes[r.CallID] = doc
			mu.Unlock()
		}) {
			wg.Done()
		}
	}
	wg.Wait()
	return fixes
}

func (o *Orchestrator) generateSummary(ctx context.Context, results []call.AnalysisResponse) map[string]any {
	var analyses []call.AnalysisResult
	for _, r := range results {
		if r.Status == call.StatusAnalyzed && r.Analysis != nil {
			analyses = append(analyses, *r.Analysis)
		}
	}
	if len(analyses) == 0 {
		return map[string]any{"error": noSummaryMessage}
	}
	return o.analyzer.GenerateSummary(ctx, analyses)
}

// Ingest stores one transcript immediately and, when its metadata marks the
// call as failed, schedules analysis in the background. The ack returns
// before any model work happens; background failures are logged only.
func (o *Orchestrator) Ingest(t *call.Transcript, metadata map[string]any) *call.IngestAck {
	if len(metadata) > 0 {
		if t.Metadata == nil {
			t.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			t.Metadata[k] = v
		}
	}

	if err := o.store.SaveTranscript(t); err != nil {
		o.log.WithError(err).WithField("call_id", t.CallID).Error("pipeline: persist transcript")
		return &call.IngestAck{Status: "error", CallID: t.CallID, Error: err.Error()}
	}

	if status, _ := t.Metadata["status"].(string); status == "failed" {
		callID := t.CallID
		if o.submit(func() {
			resp := o.analyzer.AnalyzeTranscript(context.Background(), t)
			o.log.WithFields(logrus.Fields{
				"call_id": callID,
				"status":  resp.Status,
			}).Info("pipeline: background analysis finished")
		}) {
			return &call.IngestAck{
				Status:  "received_and_analyzing",
				CallID:  t.CallID,
				Message: "Call flagged as failed - analysis started",
			}
		}
	}

	return &call.IngestAck{
		Status:  "received",
		CallID:  t.CallID,
		Message: "Call stored - no analysis needed",
	}
}
