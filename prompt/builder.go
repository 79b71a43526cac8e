// Package prompt builds the texts sent to the language model for transcript
// analysis, fix generation and batch summarization.
package prompt

import (
	"fmt"
	"strings"

	"call-replay-analyzer/call"
)

// System is the fixed instruction sent with every model call. It demands
// JSON-only replies so the invoker can parse responses directly.
const System = `You are an expert AI call quality analyst specializing in restaurant customer service calls.
Your job is to analyze conversations between customers and AI bots to identify issues and suggest improvements.

Key areas to focus on:
1. Intent recognition accuracy
2. Response relevance and helpfulness
3. Conversation flow and naturalness
4. Problem resolution effectiveness
5. Customer satisfaction indicators

Always respond in valid JSON format with the exact fields specified.`

// Analysis builds the per-call analysis prompt.
func Analysis(dialog []call.DialogueTurn) string {
	var b strings.Builder

	b.WriteString("ANALYZE THIS RESTAURANT CUSTOMER SERVICE CALL:\n\n")
	b.WriteString(FormatConversation(dialog))
	b.WriteString(`

Please provide a detailed analysis in the following JSON format:

{
    "intent": "Brief description of what the customer was trying to accomplish",
    "bot_response_summary": "Summary of how the bot responded throughout the conversation",
    "issue_detected": true/false,
    "issue_reason": "Detailed explanation of what went wrong (or 'No issues detected' if successful)",
    "suggested_fix": "Specific, actionable suggestions to improve the bot's performance",
    "confidence_score": 0.0-1.0
}

Focus on:
- Did the bot understand the customer's intent correctly?
- Were the responses relevant and helpful?
- Did the conversation flow naturally?
- Was the customer's problem resolved?
- What specific improvements would make this better?

Respond only with valid JSON.`)

	return b.String()
}

// FixSuggestion builds the follow-up prompt that asks for detailed,
// actionable fixes based on an existing analysis.
func FixSuggestion(analysis *call.AnalysisResult) string {
	return fmt.Sprintf(`BASED ON THIS ANALYSIS, GENERATE SPECIFIC FIXES:

Intent: %s
Bot response summary: %s
Issue detected: %t
Issue reason: %s
Suggested fix: %s
Confidence: %.2f

Please provide detailed, actionable suggestions in JSON format:

{
    "prompt_improvements": [
        {
            "issue": "description of the prompt problem",
            "suggested_prompt": "improved prompt text",
            "rationale": "why this change would help"
        }
    ],
    "logic_improvements": [
        {
            "issue": "description of the logic problem",
            "suggested_behavior": "what the bot should do",
            "implementation": "how to implement this change"
        }
    ],
    "priority": "high/medium/low",
    "estimated_impact": "description of expected improvement"
}

Respond only with valid JSON.`,
		analysis.Intent, analysis.BotResponseSummary, analysis.IssueDetected,
		analysis.IssueReason, analysis.SuggestedFix, analysis.ConfidenceScore)
}

// Summary builds the prompt that condenses multiple analyses into batch-level
// insights.
func Summary(analyses []call.AnalysisResult) string {
	var b strings.Builder
	b.WriteString("SUMMARIZE THESE CALL ANALYSES:\n")
	for i, a := range analyses {
		fmt.Fprintf(&b, `
Call %d:
Intent: %s
Issue Detected: %t
Issue Reason: %s
Confidence: %.2f
`, i+1, a.Intent, a.IssueDetected, a.IssueReason, a.ConfidenceScore)
	}
	b.WriteString(`
Provide a summary in JSON format:

{
    "common_issues": [
        {
            "issue": "description",
            "frequency": "how often it occurs",
            "impact": "severity level"
        }
    ],
    "top_improvements": [
        {
            "improvement": "description",
            "priority": "high/medium/low",
            "expected_benefit": "what this would achieve"
        }
    ],
    "overall_quality_score": 0.0-1.0,
    "trends": "description of patterns across calls",
    "recommendations": [
        "specific action items"
    ]
}

Respond only with valid JSON.`)
	return b.String()
}

// FormatConversation renders a dialog as numbered speaker-attributed lines.
func FormatConversation(dialog []call.DialogueTurn) string {
	lines := make([]string, 0, len(dialog))
	for i, turn := range dialog {
		speaker := string(turn.Speaker)
		if speaker != "" {
			speaker = strings.ToUpper(speaker[:1]) + speaker[1:]
		}
		lines = append(lines, fmt.Sprintf("Turn %d - %s: %s", i+1, speaker, strings.TrimSpace(turn.Text)))
	}
	return strings.Join(lines, "\n")
}
