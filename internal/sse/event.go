// Package sse defines the wire events shared by the upstream answer
// stream and our client-facing relay, plus helpers for the
// "data: <json>" line framing both sides use.
package sse

import (
	"encoding/json"
	"fmt"
	"strings"

	"askbase/internal/evidence"
)

// Event types carried in the stream.
const (
	TypeProgress = "progress"
	TypeToken    = "token"
	TypeDone     = "done"
	TypeError    = "error"
)

// Event is one streamed record. Fields are populated per Type: progress
// carries the thinking fields, token carries Token, done carries the
// final answer with its raw matches, error carries Detail.
type Event struct {
	Type          string              `json:"type"`
	Token         string              `json:"token,omitempty"`
	Answer        string              `json:"answer,omitempty"`
	Sources       []string            `json:"sources,omitempty"`
	Matches       []evidence.RawMatch `json:"matches,omitempty"`
	Label         string              `json:"label,omitempty"`
	ThinkingSteps []string            `json:"thinking_steps,omitempty"`
	Mode          string              `json:"mode,omitempty"`
	RoutingReason string              `json:"routing_reason,omitempty"`
	Detail        string              `json:"detail,omitempty"`
}

// Decode parses one stream line. It returns false for blank lines,
// comments, non-data fields, and malformed JSON payloads; a relay skips
// those rather than failing the stream.
func Decode(line string) (*Event, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		return nil, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return nil, false
	}
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, false
	}
	if ev.Type == "" {
		return nil, false
	}
	return &ev, true
}

// Frame renders the event as a complete "data: <json>\n\n" record.
func Frame(ev *Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	return buf, nil
}
