// Package dataset loads call transcripts from spreadsheet exports. One row
// is one dialogue turn; rows sharing a call id become one transcript.
package dataset

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"call-replay-analyzer/call"
)

// Load reads the first sheet of an xlsx export and groups its rows into
// transcripts, preserving the order call ids first appear in. Column
// positions are detected from the header row by name heuristics.
func Load(path string) ([]*call.Transcript, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	callIDIdx, speakerIdx, textIdx, timeIdx := -1, -1, -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "call") && strings.Contains(l, "id") || l == "id":
			if callIDIdx == -1 {
				callIDIdx = i
			}
		case strings.Contains(l, "speaker") || strings.Contains(l, "role") || strings.Contains(l, "sender"):
			if speakerIdx == -1 {
				speakerIdx = i
			}
		case strings.Contains(l, "text") || strings.Contains(l, "message") || strings.Contains(l, "utterance") || strings.Contains(l, "transcript"):
			if textIdx == -1 {
				textIdx = i
			}
		case strings.Contains(l, "time"):
			if timeIdx == -1 {
				timeIdx = i
			}
		}
	}
	if callIDIdx == -1 || speakerIdx == -1 || textIdx == -1 {
		return nil, fmt.Errorf("header row missing call id, speaker or text column: %v", rows[0])
	}

	cell := func(r []string, idx int) string {
		if idx >= 0 && idx < len(r) {
			return strings.TrimSpace(r[idx])
		}
		return ""
	}

	byID := make(map[string]*call.Transcript)
	var order []string
	for _, r := range rows[1:] {
		id := cell(r, callIDIdx)
		text := cell(r, textIdx)
		if id == "" || text == "" {
			continue
		}
		t, ok := byID[id]
		if !ok {
			t = &call.Transcript{CallID: id}
			byID[id] = t
			order = append(order, id)
		}
		t.Dialog = append(t.Dialog, call.DialogueTurn{
			Speaker:   normalizeSpeaker(cell(r, speakerIdx)),
			Text:      text,
			Timestamp: cell(r, timeIdx),
		})
	}

	out := make([]*call.Transcript, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// normalizeSpeaker maps the labels seen in exports onto the two canonical
// speakers. Unrecognized labels default to the user side so their turns
// still reach the frustration heuristics.
func normalizeSpeaker(raw string) call.Speaker {
	switch strings.ToLower(raw) {
	case "bot", "assistant", "agent", "ai", "system":
		return call.SpeakerBot
	case "user", "customer", "caller", "human":
		return call.SpeakerUser
	default:
		return call.SpeakerUser
	}
}
