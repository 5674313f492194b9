package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine aggregates run events into counters and latency histograms.
//
// Counters use atomic operations and histograms use mutex protection, so the
// engine is safe for concurrent use by many virtual users. It also fans
// events out to any attached sinks.
type Engine struct {
	// Overall latency histogram.
	// Range: 1 microsecond to 1 hour, 3 significant figures.
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	// Per-channel latency histograms
	channelHists   map[string]*hdrhistogram.Histogram
	channelHistsMu sync.RWMutex

	// Atomic counters for lock-free updates
	started       atomic.Int64
	requests      atomic.Int64
	responses     atomic.Int64
	matchesOK     atomic.Int64
	matchesFailed atomic.Int64
	errors        atomic.Int64

	// Error reasons, for the end-of-run breakdown
	errorReasons   map[string]int64
	errorReasonsMu sync.Mutex

	sinks   []Sink
	sinksMu sync.RWMutex

	startTime time.Time
}

const (
	histMin     = 1
	histMax     = 3600000000 // 1 hour in microseconds
	histSigFigs = 3
)

// NewEngine creates an empty metrics engine.
func NewEngine() *Engine {
	return &Engine{
		latencyHist:  hdrhistogram.New(histMin, histMax, histSigFigs),
		channelHists: make(map[string]*hdrhistogram.Histogram),
		errorReasons: make(map[string]int64),
		startTime:    time.Now(),
	}
}

// AddSink attaches a sink that receives every event.
func (e *Engine) AddSink(s Sink) {
	e.sinksMu.Lock()
	defer e.sinksMu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Emit records an event and forwards it to attached sinks.
func (e *Engine) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	switch ev.Type {
	case EventStarted:
		e.started.Add(1)
	case EventRequest:
		e.requests.Add(1)
	case EventResponse:
		e.responses.Add(1)
		e.recordLatency(ev.Latency, ev.Channel)
	case EventMatch:
		if ev.MatchOK {
			e.matchesOK.Add(1)
		} else {
			e.matchesFailed.Add(1)
		}
	case EventError:
		e.errors.Add(1)
		e.errorReasonsMu.Lock()
		e.errorReasons[ev.Reason]++
		e.errorReasonsMu.Unlock()
	}

	e.sinksMu.RLock()
	sinks := e.sinks
	e.sinksMu.RUnlock()
	for _, s := range sinks {
		s.Emit(ev)
	}
}

func (e *Engine) recordLatency(latency time.Duration, channel string) {
	micros := latency.Microseconds()
	if micros < histMin {
		micros = histMin
	}
	if micros > histMax {
		micros = histMax
	}

	e.latencyHistMu.Lock()
	e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()

	if channel == "" {
		return
	}
	// HDR histogram RecordValue is not thread-safe; hold the write lock.
	e.channelHistsMu.Lock()
	hist, ok := e.channelHists[channel]
	if !ok {
		hist = hdrhistogram.New(histMin, histMax, histSigFigs)
		e.channelHists[channel] = hist
	}
	hist.RecordValue(micros)
	e.channelHistsMu.Unlock()
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Count int64         `json:"count"`
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Started       int64                   `json:"started"`
	Requests      int64                   `json:"requests"`
	Responses     int64                   `json:"responses"`
	MatchesOK     int64                   `json:"matchesOk"`
	MatchesFailed int64                   `json:"matchesFailed"`
	Errors        int64                   `json:"errors"`
	ErrorReasons  map[string]int64        `json:"errorReasons,omitempty"`
	Latency       LatencyStats            `json:"latency"`
	Channels      map[string]LatencyStats `json:"channels,omitempty"`
	Elapsed       time.Duration           `json:"elapsed"`
}

func statsFrom(hist *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:   time.Duration(hist.Min()) * time.Microsecond,
		Max:   time.Duration(hist.Max()) * time.Microsecond,
		Mean:  time.Duration(hist.Mean()) * time.Microsecond,
		P50:   time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:   time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:   time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:   time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count: hist.TotalCount(),
	}
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := statsFrom(e.latencyHist)
	e.latencyHistMu.Unlock()

	channels := make(map[string]LatencyStats)
	e.channelHistsMu.RLock()
	for name, hist := range e.channelHists {
		channels[name] = statsFrom(hist)
	}
	e.channelHistsMu.RUnlock()

	reasons := make(map[string]int64)
	e.errorReasonsMu.Lock()
	for reason, count := range e.errorReasons {
		reasons[reason] = count
	}
	e.errorReasonsMu.Unlock()

	return &Snapshot{
		Started:       e.started.Load(),
		Requests:      e.requests.Load(),
		Responses:     e.responses.Load(),
		MatchesOK:     e.matchesOK.Load(),
		MatchesFailed: e.matchesFailed.Load(),
		Errors:        e.errors.Load(),
		ErrorReasons:  reasons,
		Latency:       latency,
		Channels:      channels,
		Elapsed:       time.Since(e.startTime),
	}
}

// Reset clears all metrics to their initial state.
func (e *Engine) Reset() {
	e.latencyHistMu.Lock()
	e.latencyHist.Reset()
	e.latencyHistMu.Unlock()

	e.channelHistsMu.Lock()
	e.channelHists = make(map[string]*hdrhistogram.Histogram)
	e.channelHistsMu.Unlock()

	e.errorReasonsMu.Lock()
	e.errorReasons = make(map[string]int64)
	e.errorReasonsMu.Unlock()

	e.started.Store(0)
	e.requests.Store(0)
	e.responses.Store(0)
	e.matchesOK.Store(0)
	e.matchesFailed.Store(0)
	e.errors.Store(0)
	e.startTime = time.Now()
}
