// Package prefilter decides, without any network call, whether a call
// transcript likely contains a service failure and therefore warrants
// model-based analysis.
package prefilter

import (
	"fmt"
	"strings"

	"call-replay-analyzer/call"
)

// Verdict is the outcome of the heuristic screen. Ephemeral, never persisted.
type Verdict struct {
	Failed     bool     `json:"failed"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
	CallLength int      `json:"call_length"`
}

// Detector scores transcripts with a fixed set of weighted heuristics.
// Deterministic and side-effect free; Evaluate always returns a verdict.
type Detector struct {
	frustrationKeywords  []string
	botConfusionPatterns []string
	shortAnswerThreshold int
}

// Weights contributed by each heuristic when it triggers.
const (
	weightFrustration = 0.4
	weightRepetition  = 0.3
	weightFlowIssues  = 0.2
	weightConfusion   = 0.3
	weightAbruptEnd   = 0.2

	// decisionThreshold is compared against the raw (pre-clamp) weight sum.
	decisionThreshold = 0.3
)

// New returns a detector with the default keyword lists.
// shortAnswerThreshold is the bot-utterance length (in bytes, after trim)
// below which a reply counts toward the flow-issues heuristic; 0 means the
// default of 10.
func New(shortAnswerThreshold int) *Detector {
	if shortAnswerThreshold <= 0 {
		shortAnswerThreshold = 10
	}
	return &Detector{
		frustrationKeywords: []string{
			"not helpful", "hello?", "what?", "you there?", "makes no sense",
			"that's not what i asked", "i don't understand", "wrong answer",
			"that doesn't help", "can you hear me", "are you listening",
			"this is ridiculous", "useless", "stupid", "idiot",
		},
		botConfusionPatterns: []string{
			"i don't understand", "could you repeat", "i'm not sure",
			"let me try to help", "i apologize", "i'm sorry",
		},
		shortAnswerThreshold: shortAnswerThreshold,
	}
}

// Describe reports the detector's active configuration for diagnostics.
func (d *Detector) Describe() map[string]any {
	return map[string]any{
		"decision_threshold":     decisionThreshold,
		"short_answer_threshold": d.shortAnswerThreshold,
		"frustration_keywords":   len(d.frustrationKeywords),
		"confusion_patterns":     len(d.botConfusionPatterns),
	}
}

// Evaluate screens one transcript. Calls shorter than three turns short-circuit
// to a failed verdict; otherwise the five heuristics run in fixed order and
// their weights sum.
//
// The failed decision is made on the raw weight sum, while the reported
// confidence is the sum clamped to 1.0. The asymmetry is deliberate and
// load-bearing: a raw sum of 1.3 is compared against the 0.3 threshold as 1.3,
// then reported as 1.0.
func (d *Detector) Evaluate(t *call.Transcript) Verdict {
	dialog := t.Dialog

	if len(dialog) < 3 {
		return Verdict{
			Failed:     true,
			Confidence: 0.8,
			Reasons:    []string{"Call too short - likely incomplete"},
			CallLength: len(dialog),
		}
	}

	var reasons []string
	rawScore := 0.0

	if detected, rs := d.detectUserFrustration(dialog); detected {
		reasons = append(reasons, rs...)
		rawScore += weightFrustration
	}
	if detected, rs := d.detectBotRepetition(dialog); detected {
		reasons = append(reasons, rs...)
		rawScore += weightRepetition
	}
	if detected, rs := d.detectFlowIssues(dialog); detected {
		reasons = append(reasons, rs...)
		rawScore += weightFlowIssues
	}
	if detected, rs := d.detectBotConfusion(dialog); detected {
		reasons = append(reasons, rs...)
		rawScore += weightConfusion
	}
	if detected, rs := d.detectAbruptEnding(dialog); detected {
		reasons = append(reasons, rs...)
		rawScore += weightAbruptEnd
	}

	return Verdict{
		Failed:     rawScore >= decisionThreshold,
		Confidence: min(rawScore, 1.0),
		Reasons:    reasons,
		CallLength: len(dialog),
	}
}

// detectUserFrustration scans user turns for frustration keywords. The scan of
// a single turn stops at its first matching keyword, but subsequent turns are
// still scanned so every frustrated turn contributes a reason.
func (d *Detector) detectUserFrustration(dialog []call.DialogueTurn) (bool, []string) {
	var reasons []string
	for _, turn := range dialog {
		if turn.Speaker != call.SpeakerUser {
			continue
		}
		lower := strings.ToLower(turn.Text)
		for _, kw := range d.frustrationKeywords {
			if strings.Contains(lower, kw) {
				reasons = append(reasons, fmt.Sprintf("User frustration detected: '%s'", kw))
				break
			}
		}
	}
	return len(reasons) > 0, reasons
}

// detectBotRepetition triggers when any bot utterance (exact text after trim)
// appears at least twice across the transcript.
func (d *Detector) detectBotRepetition(dialog []call.DialogueTurn) (bool, []string) {
	counts := make(map[string]int)
	for _, turn := range dialog {
		if turn.Speaker == call.SpeakerBot {
			counts[strings.TrimSpace(turn.Text)]++
		}
	}
	repeated := 0
	for _, n := range counts {
		if n >= 2 {
			repeated++
		}
	}
	if repeated == 0 {
		return false, nil
	}
	return true, []string{fmt.Sprintf("Bot repeated responses: %d unique responses repeated", repeated)}
}

// detectFlowIssues triggers when more than two bot turns are shorter than the
// configured threshold after trimming.
func (d *Detector) detectFlowIssues(dialog []call.DialogueTurn) (bool, []string) {
	short := 0
	for _, turn := range dialog {
		if turn.Speaker == call.SpeakerBot && len(strings.TrimSpace(turn.Text)) < d.shortAnswerThreshold {
			short++
		}
	}
	if short <= 2 {
		return false, nil
	}
	return true, []string{fmt.Sprintf("Multiple very short bot responses: %d", short)}
}

// detectBotConfusion mirrors detectUserFrustration for bot turns and the
// confusion phrase list.
func (d *Detector) detectBotConfusion(dialog []call.DialogueTurn) (bool, []string) {
	var reasons []string
	for _, turn := range dialog {
		if turn.Speaker != call.SpeakerBot {
			continue
		}
		lower := strings.ToLower(turn.Text)
		for _, pattern := range d.botConfusionPatterns {
			if strings.Contains(lower, pattern) {
				reasons = append(reasons, fmt.Sprintf("Bot confusion detected: '%s'", pattern))
				break
			}
		}
	}
	return len(reasons) > 0, reasons
}

// detectAbruptEnding triggers when the dialog has fewer than five turns, or
// when the final turn is a user turn that still carries a question marker.
func (d *Detector) detectAbruptEnding(dialog []call.DialogueTurn) (bool, []string) {
	var reasons []string
	if len(dialog) < 5 {
		reasons = append(reasons, "Conversation ended very early")
	}
	if len(dialog) > 0 {
		last := dialog[len(dialog)-1]
		if last.Speaker == call.SpeakerUser {
			lower := strings.ToLower(last.Text)
			for _, marker := range []string{"?", "help", "what", "how"} {
				if strings.Contains(lower, marker) {
					reasons = append(reasons, "Conversation ended with user question/request")
					break
				}
			}
		}
	}
	return len(reasons) > 0, reasons
}
