// Package stream implements the run_stream Orchestrator that drives a
// debate to completion and exposes it as an iter.Seq2 of typed Events
// for an HTTP handler or CLI to forward as SSE frames.
package stream

import (
	"encoding/json"
	"io"

	"github.com/coursetutor/ragdebate/agents/reporter"
	"github.com/coursetutor/ragdebate/agents/tutor"
)

// EventType is the tagged-union discriminator for Event.
type EventType string

const (
	EventInProgress EventType = "in_progress"
	EventContent    EventType = "content"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// Event is the single wire shape emitted by the Orchestrator. Only the
// fields relevant to Type are populated; json omitempty keeps frames
// compact.
type Event struct {
	Type EventType `json:"type"`

	// in_progress
	Node    string `json:"node,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Round   int    `json:"round,omitempty"`
	Message string `json:"message,omitempty"`

	// content: a contiguous suffix of tokens from the Reporter stage
	Delta string `json:"delta,omitempty"`

	// complete
	Answer           *reporter.Answer   `json:"answer,omitempty"`
	TutorInteraction *tutor.Interaction `json:"tutor_interaction,omitempty"`
	Rounds           int                `json:"rounds,omitempty"`

	// error
	Err         string `json:"error,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// EncodeTo writes ev as a single Server-Sent Events frame: a literal
// "data: <json>\n\n" per the W3C SSE framing.
func EncodeTo(w io.Writer, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
