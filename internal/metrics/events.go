// Package metrics collects run events and aggregates latency statistics
// using HDR histograms.
package metrics

import (
	"time"
)

// EventType names a run event.
type EventType string

const (
	// EventStarted marks the start of one virtual user's scenario.
	EventStarted EventType = "started"
	// EventRequest marks an outgoing emit.
	EventRequest EventType = "request"
	// EventResponse marks step completion with a measured latency.
	EventResponse EventType = "response"
	// EventMatch records the outcome of one capture/match assertion.
	EventMatch EventType = "match"
	// EventError records a step or connection failure.
	EventError EventType = "error"
)

// Event is one observation emitted by the scenario engine.
type Event struct {
	Type      EventType
	ContextID string
	Channel   string
	Timestamp time.Time

	// Response fields
	Latency    time.Duration
	StatusCode int // placeholder; channel protocols carry no status

	// Match fields
	MatchOK    bool
	Expected   string
	Got        string
	Expression string

	// Error fields
	Reason string
}

// Sink receives run events as they happen. Implementations must be safe for
// concurrent use; many virtual users emit at once.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ev Event) { f(ev) }
