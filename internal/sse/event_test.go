package sse

import (
	"strings"
	"testing"
)

func TestDecodeTokenEvent(t *testing.T) {
	ev, ok := Decode(`data: {"type":"token","token":"hel"}`)
	if !ok {
		t.Fatalf("expected a decoded event")
	}
	if ev.Type != TypeToken || ev.Token != "hel" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestDecodeDoneEvent(t *testing.T) {
	line := `data: {"type":"done","answer":"hi","sources":["Source #01"],"matches":[{"source":"a.md","score":0.7}]}`
	ev, ok := Decode(line)
	if !ok {
		t.Fatalf("expected a decoded event")
	}
	if ev.Type != TypeDone || ev.Answer != "hi" || len(ev.Matches) != 1 || ev.Matches[0].Source != "a.md" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestDecodeSkipsNonData(t *testing.T) {
	for _, line := range []string{
		"",
		": comment",
		"event: message",
		"data:",
		"data: not-json",
		`data: {"token":"no type"}`,
	} {
		if _, ok := Decode(line); ok {
			t.Fatalf("line %q should not decode", line)
		}
	}
}

func TestDecodeTrimsCarriageReturn(t *testing.T) {
	ev, ok := Decode("data: {\"type\":\"progress\",\"label\":\"routing\"}\r")
	if !ok || ev.Label != "routing" {
		t.Fatalf("CRLF line should decode: %+v ok=%v", ev, ok)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	raw, err := Frame(&Event{Type: TypeError, Detail: "boom"})
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if !strings.HasSuffix(string(raw), "\n\n") {
		t.Fatalf("frame must end with a blank line: %q", raw)
	}
	ev, ok := Decode(strings.TrimRight(string(raw), "\n"))
	if !ok || ev.Type != TypeError || ev.Detail != "boom" {
		t.Fatalf("round trip failed: %+v ok=%v", ev, ok)
	}
}
