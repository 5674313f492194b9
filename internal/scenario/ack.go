package scenario

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/transport"
)

// ackWaiter correlates a single delivery acknowledgement to zero-or-one
// expected response description. Completion is driven purely by the
// transport invoking the callback; there is no channel listener.
type ackWaiter struct {
	spec     *config.ResponseSpec
	validate validateFunc

	completed atomic.Bool
	err       error
	done      chan struct{}
}

func newAckWaiter(spec *config.ResponseSpec, validate validateFunc) *ackWaiter {
	return &ackWaiter{
		spec:     spec,
		validate: validate,
		done:     make(chan struct{}),
	}
}

// callback is handed to the transport's send primitive.
func (w *ackWaiter) callback(args transport.AckArgs, err error) {
	if err != nil {
		w.complete(&ConnectionError{Err: err})
		return
	}
	if w.spec == nil {
		// Nothing to validate: the acknowledgement itself is success.
		w.complete(nil)
		return
	}
	w.complete(w.validate("", selectAckPayload(args, w.spec), w.spec))
}

// selectAckPayload picks what the spec's paths address. The acknowledgement
// arguments form an ordered sequence; positional paths ($[1].foo) see the
// whole sequence, anything else sees the first element.
func selectAckPayload(args transport.AckArgs, spec *config.ResponseSpec) json.RawMessage {
	if len(args) == 0 {
		return nil
	}
	if ackSpecIsPositional(spec) {
		if joined, err := json.Marshal([]json.RawMessage(args)); err == nil {
			return joined
		}
	}
	return args[0]
}

func ackSpecIsPositional(spec *config.ResponseSpec) bool {
	paths := make([]string, 0, len(spec.Capture)+len(spec.Match))
	for _, c := range spec.Capture {
		paths = append(paths, c.JSON)
	}
	for _, m := range spec.Match {
		paths = append(paths, m.JSON)
	}
	if len(paths) == 0 {
		return false
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, "$[") {
			return false
		}
	}
	return true
}

func (w *ackWaiter) complete(err error) {
	if !w.completed.CompareAndSwap(false, true) {
		return
	}
	w.err = err
	close(w.done)
}

// await blocks until the acknowledgement arrives or the timeout fires.
func (w *ackWaiter) await(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
	case <-timer.C:
		w.complete(&TimeoutError{Timeout: timeout, Received: 0, Required: 1})
		<-w.done
	}
	return w.err
}
