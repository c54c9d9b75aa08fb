// Package relay forwards an upstream answer stream to a client verbatim
// while shadow-parsing it, so the final answer can be persisted without
// a second upstream call.
package relay

import (
	"strings"

	"askbase/internal/evidence"
	"askbase/internal/sse"
)

// Outcome is what the relay learned from a finished stream.
type Outcome struct {
	Answer  string
	Sources []string
	Matches []evidence.RawMatch
}

// Relay splits the pass-through byte stream into SSE lines and tracks
// tokens and the final done event. Bytes reach the client before they
// are parsed; a malformed line never disrupts delivery.
type Relay struct {
	buf         strings.Builder
	accumulated strings.Builder
	sawDone     bool
	done        *sse.Event
}

func New() *Relay {
	return &Relay{}
}

// Consume forwards the chunk to the client, then feeds it to the
// shadow parser. The forward error is returned as-is so the caller can
// detect a disconnected client.
func (r *Relay) Consume(chunk []byte, forward func([]byte) error) error {
	if err := forward(chunk); err != nil {
		return err
	}
	r.buf.Write(chunk)
	r.drainLines()
	return nil
}

func (r *Relay) drainLines() {
	pending := r.buf.String()
	for {
		idx := strings.IndexByte(pending, '\n')
		if idx < 0 {
			break
		}
		line := pending[:idx]
		pending = pending[idx+1:]
		r.observe(line)
	}
	r.buf.Reset()
	r.buf.WriteString(pending)
}

func (r *Relay) observe(line string) {
	ev, ok := sse.Decode(line)
	if !ok {
		return
	}
	switch ev.Type {
	case sse.TypeToken:
		r.accumulated.WriteString(ev.Token)
	case sse.TypeDone:
		r.sawDone = true
		r.done = ev
	}
}

// Finish flushes any trailing partial line and reports the stream's
// outcome. The second return value is false when no done event arrived
// or no usable answer was observed; callers fall back to the background
// monitor in that case.
func (r *Relay) Finish() (*Outcome, bool) {
	if r.buf.Len() > 0 {
		r.observe(r.buf.String())
		r.buf.Reset()
	}
	if !r.sawDone {
		return nil, false
	}

	answer := r.done.Answer
	if strings.TrimSpace(answer) == "" {
		// Some backends emit tokens and an empty done payload.
		answer = r.accumulated.String()
	}
	if strings.TrimSpace(answer) == "" {
		return nil, false
	}
	return &Outcome{
		Answer:  answer,
		Sources: r.done.Sources,
		Matches: r.done.Matches,
	}, true
}
