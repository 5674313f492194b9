package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestEngine_Counters(t *testing.T) {
	e := NewEngine()

	e.Emit(Event{Type: EventStarted})
	e.Emit(Event{Type: EventRequest})
	e.Emit(Event{Type: EventRequest})
	e.Emit(Event{Type: EventResponse, Latency: 5 * time.Millisecond})
	e.Emit(Event{Type: EventMatch, MatchOK: true})
	e.Emit(Event{Type: EventMatch, MatchOK: false})
	e.Emit(Event{Type: EventError, Reason: "response timeout"})
	e.Emit(Event{Type: EventError, Reason: "response timeout"})

	snap := e.GetSnapshot()
	if snap.Started != 1 {
		t.Errorf("Started = %d", snap.Started)
	}
	if snap.Requests != 2 {
		t.Errorf("Requests = %d", snap.Requests)
	}
	if snap.Responses != 1 {
		t.Errorf("Responses = %d", snap.Responses)
	}
	if snap.MatchesOK != 1 || snap.MatchesFailed != 1 {
		t.Errorf("Matches = %d ok / %d failed", snap.MatchesOK, snap.MatchesFailed)
	}
	if snap.Errors != 2 {
		t.Errorf("Errors = %d", snap.Errors)
	}
	if snap.ErrorReasons["response timeout"] != 2 {
		t.Errorf("ErrorReasons = %#v", snap.ErrorReasons)
	}
}

func TestEngine_LatencyPerChannel(t *testing.T) {
	e := NewEngine()

	e.Emit(Event{Type: EventResponse, Channel: "chat", Latency: 10 * time.Millisecond})
	e.Emit(Event{Type: EventResponse, Channel: "chat", Latency: 20 * time.Millisecond})
	e.Emit(Event{Type: EventResponse, Channel: "status", Latency: 5 * time.Millisecond})

	snap := e.GetSnapshot()
	if snap.Latency.Count != 3 {
		t.Errorf("overall Count = %d", snap.Latency.Count)
	}
	if snap.Latency.Min < 4*time.Millisecond || snap.Latency.Max > 21*time.Millisecond {
		t.Errorf("Latency = %+v", snap.Latency)
	}

	chat, ok := snap.Channels["chat"]
	if !ok || chat.Count != 2 {
		t.Errorf("Channels[chat] = %+v (ok %v)", chat, ok)
	}
	status, ok := snap.Channels["status"]
	if !ok || status.Count != 1 {
		t.Errorf("Channels[status] = %+v (ok %v)", status, ok)
	}
}

func TestEngine_LatencyClamped(t *testing.T) {
	e := NewEngine()

	// Sub-microsecond and multi-hour latencies must still record.
	e.Emit(Event{Type: EventResponse, Latency: 1})
	e.Emit(Event{Type: EventResponse, Latency: 2 * time.Hour})

	snap := e.GetSnapshot()
	if snap.Latency.Count != 2 {
		t.Errorf("Count = %d", snap.Latency.Count)
	}
}

func TestEngine_Sinks(t *testing.T) {
	e := NewEngine()

	var mu sync.Mutex
	var got []Event
	e.AddSink(SinkFunc(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}))

	e.Emit(Event{Type: EventRequest, Channel: "chat"})
	e.Emit(Event{Type: EventError, Reason: "boom"})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("sink saw %d events, want 2", len(got))
	}
	if got[0].Type != EventRequest || got[1].Reason != "boom" {
		t.Errorf("events = %+v", got)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("Timestamp should be filled in")
	}
}

func TestEngine_ConcurrentEmit(t *testing.T) {
	e := NewEngine()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				e.Emit(Event{Type: EventResponse, Channel: "chat", Latency: time.Millisecond})
			}
		}()
	}
	wg.Wait()

	snap := e.GetSnapshot()
	if snap.Responses != 1600 {
		t.Errorf("Responses = %d", snap.Responses)
	}
	if snap.Channels["chat"].Count != 1600 {
		t.Errorf("channel Count = %d", snap.Channels["chat"].Count)
	}
}

func TestEngine_Reset(t *testing.T) {
	e := NewEngine()
	e.Emit(Event{Type: EventResponse, Channel: "chat", Latency: time.Millisecond})
	e.Emit(Event{Type: EventError, Reason: "boom"})

	e.Reset()

	snap := e.GetSnapshot()
	if snap.Responses != 0 || snap.Errors != 0 {
		t.Errorf("counters survived reset: %+v", snap)
	}
	if snap.Latency.Count != 0 {
		t.Errorf("histogram survived reset: %+v", snap.Latency)
	}
	if len(snap.Channels) != 0 || len(snap.ErrorReasons) != 0 {
		t.Errorf("maps survived reset: %+v", snap)
	}
}
