package call

// Speaker identifies which side of the conversation produced a turn.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerBot  Speaker = "bot"
)

// DialogueTurn is a single utterance within a call. Immutable once built.
type DialogueTurn struct {
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// Transcript is the full recorded exchange for one call. The call_id is an
// opaque identifier; it is not guaranteed unique across ingestions.
type Transcript struct {
	CallID   string         `json:"call_id"`
	Dialog   []DialogueTurn `json:"dialog"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Status is the outcome classification of one analysis response.
type Status string

const (
	StatusAnalyzed Status = "analyzed"
	StatusSkipped  Status = "skipped"
	StatusError    Status = "error"
)

// AnalysisResult is the structured judgment produced by the language model.
// Absent fields are filled with heuristic defaults before this is built.
type AnalysisResult struct {
	Intent             string  `json:"intent"`
	BotResponseSummary string  `json:"bot_response_summary"`
	IssueDetected      bool    `json:"issue_detected"`
	IssueReason        string  `json:"issue_reason"`
	SuggestedFix       string  `json:"suggested_fix"`
	ConfidenceScore    float64 `json:"confidence_score"`
}

// AnalysisResponse is the per-call outcome. Exactly one of Reason, Analysis
// or Error is meaningfully populated, determined by Status.
type AnalysisResponse struct {
	CallID   string          `json:"call_id"`
	Status   Status          `json:"status"`
	Reason   string          `json:"reason,omitempty"`
	Analysis *AnalysisResult `json:"analysis,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Stats aggregates a set of analysis responses.
type Stats struct {
	TotalCalls        int     `json:"total_calls"`
	Analyzed          int     `json:"analyzed"`
	Skipped           int     `json:"skipped"`
	Errors            int     `json:"errors"`
	IssuesDetected    int     `json:"issues_detected"`
	IssueRate         float64 `json:"issue_rate"`
	AverageConfidence float64 `json:"average_confidence"`
	SuccessRate       float64 `json:"success_rate"`
}

// PipelineStats extends Stats with the batch-pipeline efficiency ratio.
type PipelineStats struct {
	Stats
	ProcessingEfficiency float64 `json:"processing_efficiency"`
}

// PipelineResult is the single record produced by one batch invocation.
// Never mutated after creation.
type PipelineResult struct {
	PipelineID      string             `json:"pipeline_id"`
	Timestamp       string             `json:"timestamp"`
	InputCount      int                `json:"input_count"`
	AnalysisResults []AnalysisResponse `json:"analysis_results"`
	FixResults      map[string]any     `json:"fix_results"`
	Summary         map[string]any     `json:"summary"`
	Statistics      PipelineStats      `json:"statistics"`
	Error           string             `json:"error,omitempty"`
}

// IngestAck acknowledges a single-transcript ingestion.
type IngestAck struct {
	Status  string `json:"status"`
	CallID  string `json:"call_id"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
