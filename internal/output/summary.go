// Package output renders end-of-run summaries to the console.
package output

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/runner"
)

// Summary prints a finished run in a human-readable form.
type Summary struct {
	w      io.Writer
	scheme *ColorScheme
}

// NewSummary creates a summary writer with the given color scheme.
func NewSummary(w io.Writer, scheme *ColorScheme) *Summary {
	if scheme == nil {
		scheme = NoColorScheme()
	}
	return &Summary{w: w, scheme: scheme}
}

// Print writes the run summary.
func (s *Summary) Print(name string, res *runner.Result) {
	snap := res.Snapshot

	s.scheme.Title.Fprintf(s.w, "\n%s\n", titleOrDefault(name))
	fmt.Fprintf(s.w, "%s\n\n", timeString(snap.Elapsed))

	s.line("virtual users", fmt.Sprintf("%d", res.Users))
	if res.Failed == 0 {
		s.scheme.Label.Fprintf(s.w, "  %-16s", "completed")
		s.scheme.Success.Fprintf(s.w, "%d\n", res.Succeeded)
	} else {
		s.scheme.Label.Fprintf(s.w, "  %-16s", "completed")
		s.scheme.Warn.Fprintf(s.w, "%d of %d\n", res.Succeeded, res.Users)
	}
	s.line("emits", fmt.Sprintf("%d", snap.Requests))
	s.line("responses", fmt.Sprintf("%d", snap.Responses))
	s.line("matches", fmt.Sprintf("%d ok / %d failed", snap.MatchesOK, snap.MatchesFailed))

	if snap.Latency.Count > 0 {
		s.scheme.Title.Fprintf(s.w, "\nlatency\n")
		s.line("min", snap.Latency.Min.String())
		s.line("p50", snap.Latency.P50.String())
		s.line("p95", snap.Latency.P95.String())
		s.line("p99", snap.Latency.P99.String())
		s.line("max", snap.Latency.Max.String())
	}

	if len(snap.Channels) > 0 {
		s.scheme.Title.Fprintf(s.w, "\nchannels\n")
		names := make([]string, 0, len(snap.Channels))
		for name := range snap.Channels {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ch := snap.Channels[name]
			s.line(name, fmt.Sprintf("count %d, p95 %s", ch.Count, ch.P95))
		}
	}

	s.printErrors(snap, res)
}

func (s *Summary) printErrors(snap *metrics.Snapshot, res *runner.Result) {
	if snap.Errors == 0 {
		return
	}

	s.scheme.Error.Fprintf(s.w, "\nerrors (%d)\n", snap.Errors)
	reasons := make([]string, 0, len(snap.ErrorReasons))
	for reason := range snap.ErrorReasons {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		s.line(reason, fmt.Sprintf("%d", snap.ErrorReasons[reason]))
	}

	for _, ue := range res.Errors {
		fmt.Fprintf(s.w, "  user %s: %v\n", shortID(ue.ContextID), ue.Err)
	}
}

func (s *Summary) line(label, value string) {
	s.scheme.Label.Fprintf(s.w, "  %-16s", label)
	s.scheme.Value.Fprintf(s.w, "%s\n", value)
}

func titleOrDefault(name string) string {
	if name == "" {
		return "surge run"
	}
	return name
}

func timeString(elapsed time.Duration) string {
	return fmt.Sprintf("finished in %s", elapsed.Round(time.Millisecond))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
