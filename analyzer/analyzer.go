// Package analyzer runs the per-transcript failure analysis: a cheap
// heuristic prefilter decides whether a call is worth sending to the
// language model, and model replies are decoded into typed results with
// defaults for any field the model omitted.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"call-replay-analyzer/call"
	"call-replay-analyzer/llm"
	"call-replay-analyzer/prefilter"
	"call-replay-analyzer/prompt"
	"call-replay-analyzer/store"
)

// Analyzer coordinates prefilter, model invocation and result persistence.
type Analyzer struct {
	detector *prefilter.Detector
	invoker  *llm.Client
	store    store.Store
	log      logrus.FieldLogger
}

func New(detector *prefilter.Detector, invoker *llm.Client, st store.Store, log logrus.FieldLogger) *Analyzer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Analyzer{detector: detector, invoker: invoker, store: st, log: log}
}

// rawAnalysis mirrors the model's reply with pointer fields so absent keys
// can be told apart from zero values and filled with defaults.
type rawAnalysis struct {
	Intent             *string  `json:"intent"`
	BotResponseSummary *string  `json:"bot_response_summary"`
	IssueDetected      *bool    `json:"issue_detected"`
	IssueReason        *string  `json:"issue_reason"`
	SuggestedFix       *string  `json:"suggested_fix"`
	ConfidenceScore    *float64 `json:"confidence_score"`
}

func (r rawAnalysis) toResult() *call.AnalysisResult {
	result := &call.AnalysisResult{
		Intent:             "Unknown",
		BotResponseSummary: "No summary",
		IssueDetected:      false,
		IssueReason:        "No issues detected",
		SuggestedFix:       "No suggestions",
		ConfidenceScore:    0.5,
	}
	if r.Intent != nil {
		result.Intent = *r.Intent
	}
	if r.BotResponseSummary != nil {
		result.BotResponseSummary = *r.BotResponseSummary
	}
	if r.IssueDetected != nil {
		result.IssueDetected = *r.IssueDetected
	}
	if r.IssueReason != nil {
		result.IssueReason = *r.IssueReason
	}
	if r.SuggestedFix != nil {
		result.SuggestedFix = *r.SuggestedFix
	}
	if r.ConfidenceScore != nil {
		result.ConfidenceScore = *r.ConfidenceScore
	}
	if result.ConfidenceScore < 0 {
		result.ConfidenceScore = 0
	}
	if result.ConfidenceScore > 1 {
		result.ConfidenceScore = 1
	}
	return result
}

// AnalyzeTranscript evaluates one call end to end. Calls the prefilter marks
// as passing are skipped without a model round trip. The response is always
// appended to the store, whatever its status; a store failure is logged and
// never changes the outcome.
func (a *Analyzer) AnalyzeTranscript(ctx context.Context, t *call.Transcript) *call.AnalysisResponse {
	resp := a.analyze(ctx, t)
	if err := a.store.Append(&store.Record{AnalysisResponse: *resp}); err != nil {
		a.log.WithError(err).WithField("call_id", resp.CallID).Error("analyzer: persist response")
	}
	return resp
}

func (a *Analyzer) analyze(ctx context.Context, t *call.Transcript) *call.AnalysisResponse {
	verdict := a.detector.Evaluate(t)
	if !verdict.Failed {
		return &call.AnalysisResponse{
			CallID: t.CallID,
			Status: call.StatusSkipped,
			Reason: fmt.Sprintf("No issues detected (confidence: %.2f)", verdict.Confidence),
		}
	}

	a.log.WithFields(logrus.Fields{
		"call_id":    t.CallID,
		"confidence": verdict.Confidence,
		"reasons":    verdict.Reasons,
	}).Info("analyzer: prefilter flagged call")

	reply, err := a.invoker.Invoke(ctx, prompt.Analysis(t.Dialog))
	if err != nil {
		return &call.AnalysisResponse{
			CallID: t.CallID,
			Status: call.StatusError,
			Error:  err.Error(),
		}
	}

	var raw rawAnalysis
	if err := json.Unmarshal(reply, &raw); err != nil {
		return &call.AnalysisResponse{
			CallID: t.CallID,
			Status: call.StatusError,
			Error:  fmt.Sprintf("failed to decode analysis: %s", err),
		}
	}

	return &call.AnalysisResponse{
		CallID:   t.CallID,
		Status:   call.StatusAnalyzed,
		Analysis: raw.toResult(),
	}
}

// GenerateFixes asks the model for actionable fixes based on an analysis.
// The reply shape is model-defined, so it stays an open document. Failures
// come back as an error document rather than an error value because fix
// generation is advisory and never blocks a batch.
func (a *Analyzer) GenerateFixes(ctx context.Context, analysis *call.AnalysisResult) map[string]any {
	return a.invokeDocument(ctx, prompt.FixSuggestion(analysis))
}

// GenerateSummary condenses a set of analyses into batch-level insights.
func (a *Analyzer) GenerateSummary(ctx context.Context, analyses []call.AnalysisResult) map[string]any {
	return a.invokeDocument(ctx, prompt.Summary(analyses))
}

func (a *Analyzer) invokeDocument(ctx context.Context, p string) map[string]any {
	reply, err := a.invoker.Invoke(ctx, p)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var doc map[string]any
	if err := json.Unmarshal(reply, &doc); err != nil {
		return map[string]any{"error": fmt.Sprintf("failed to decode response: %s", err)}
	}
	return doc
}

// ComputeStats aggregates a batch of responses. Ratios with a zero
// denominator are reported as 0.
func ComputeStats(responses []call.AnalysisResponse) call.Stats {
	st := call.Stats{TotalCalls: len(responses)}

	var confidenceSum float64
	var confidenceCount int
	for _, r := range responses {
		switch r.Status {
		case call.StatusAnalyzed:
			st.Analyzed++
		case call.StatusSkipped:
			st.Skipped++
		case call.StatusError:
			st.Errors++
		}
		if r.Analysis != nil {
			confidenceSum += r.Analysis.ConfidenceScore
			confidenceCount++
			if r.Analysis.IssueDetected {
				st.IssuesDetected++
			}
		}
	}

	if st.Analyzed > 0 {
		st.IssueRate = float64(st.IssuesDetected) / float64(st.Analyzed)
	}
	if confidenceCount > 0 {
		st.AverageConfidence = confidenceSum / float64(confidenceCount)
	}
	if st.TotalCalls > 0 {
		st.SuccessRate = float64(st.Analyzed) / float64(st.TotalCalls)
	}
	return st
}
