package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wesleyorama2/surge/internal/capture"
	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/template"
	"github.com/wesleyorama2/surge/internal/transport"
)

// Delegate executes non-pub/sub steps. The real request/response engine
// lives outside this core; runs without one fail any delegate step.
type Delegate interface {
	Execute(ctx context.Context, spec *config.DelegateSpec, sctx *Context) error
}

// DelegateFunc adapts a function to the Delegate interface.
type DelegateFunc func(ctx context.Context, spec *config.DelegateSpec, sctx *Context) error

// Execute implements Delegate.
func (f DelegateFunc) Execute(ctx context.Context, spec *config.DelegateSpec, sctx *Context) error {
	return f(ctx, spec, sctx)
}

// Executor runs scenario steps against a context. It is compiled once per
// scenario: hook names are resolved and inline schemas compiled up front, so
// a bad reference fails the run before any virtual user starts.
//
// One executor serves every virtual user of a run; all per-user state lives
// in the Context.
type Executor struct {
	settings *config.Settings
	registry *Registry
	metrics  *metrics.Engine
	delegate Delegate

	before  map[string]BeforeResponseHook
	preds   map[string]PredicateHook
	schemas map[*config.ResponseSpec]*jsonschema.Schema
}

// NewExecutor compiles a scenario into an executor.
func NewExecutor(sc *config.Scenario, dialer transport.Dialer, engine *metrics.Engine, hooks *Hooks, delegate Delegate) (*Executor, error) {
	if hooks == nil {
		hooks = NewHooks()
	}
	e := &Executor{
		settings: &sc.Config,
		registry: NewRegistry(dialer, &sc.Config),
		metrics:  engine,
		delegate: delegate,
		before:   make(map[string]BeforeResponseHook),
		preds:    make(map[string]PredicateHook),
		schemas:  make(map[*config.ResponseSpec]*jsonschema.Schema),
	}
	if err := e.compile(sc.Flow, hooks); err != nil {
		return nil, err
	}
	return e, nil
}

// compile resolves every hook name and compiles every inline schema the flow
// references.
func (e *Executor) compile(steps []*config.Step, hooks *Hooks) error {
	for _, step := range steps {
		switch {
		case step.Loop != nil:
			if step.WhileTrue != "" {
				fn, err := hooks.predicate(step.WhileTrue)
				if err != nil {
					return err
				}
				e.preds[step.WhileTrue] = fn
			}
			if err := e.compile(step.Loop, hooks); err != nil {
				return err
			}
		case step.Emit != nil:
			emit := step.Emit
			if emit.BeforeResponse != "" {
				fn, err := hooks.beforeResponse(emit.BeforeResponse)
				if err != nil {
					return err
				}
				e.before[emit.BeforeResponse] = fn
			}
			specs := append([]*config.ResponseSpec{}, emit.Response...)
			if emit.Acknowledge != nil {
				specs = append(specs, emit.Acknowledge)
			}
			for _, spec := range specs {
				if spec.Schema == "" {
					continue
				}
				schema, err := config.CompileSchema(spec.Schema)
				if err != nil {
					return err
				}
				e.schemas[spec] = schema
			}
		}
	}
	return nil
}

// CloseSockets disconnects every channel client a context owns. Called on
// the way out of a scenario, whether it succeeded or failed.
func (e *Executor) CloseSockets(sctx *Context) {
	e.registry.Close(sctx)
}

// RunFlow runs steps sequentially against the context. The first error
// short-circuits the remainder.
func (e *Executor) RunFlow(ctx context.Context, steps []*config.Step, sctx *Context) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.RunStep(ctx, step, sctx); err != nil {
			return err
		}
	}
	return nil
}

// RunStep classifies and runs a single step.
func (e *Executor) RunStep(ctx context.Context, step *config.Step, sctx *Context) error {
	switch {
	case step.Think != nil:
		return e.think(ctx, step.Think)
	case step.Loop != nil:
		return e.runLoop(ctx, step, sctx)
	case step.Delegate != nil:
		if e.delegate == nil {
			err := fmt.Errorf("%w: no delegate engine configured for %q", ErrInvalidArguments, step.Delegate.Name)
			e.emitError(sctx, err)
			return err
		}
		return e.delegate.Execute(ctx, step.Delegate, sctx)
	case step.Emit != nil:
		return e.runEmit(ctx, step.Emit, sctx)
	default:
		err := fmt.Errorf("%w: empty step", ErrInvalidArguments)
		e.emitError(sctx, err)
		return err
	}
}

// think pauses the virtual user for the step's fixed or uniform-random
// duration, falling back to the scenario default.
func (e *Executor) think(ctx context.Context, spec *config.ThinkSpec) error {
	if spec.Duration == 0 && spec.Min == 0 && spec.Max == 0 && e.settings.Defaults.Think != nil {
		spec = e.settings.Defaults.Think
	}

	d := spec.Duration
	if spec.Max > spec.Min {
		d = spec.Min + time.Duration(rand.Int63n(int64(spec.Max-spec.Min)))
	} else if d == 0 {
		d = spec.Min
	}
	if d <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// runEmit drives one emit step through resolve, emit, and the optional
// await-reply phase.
func (e *Executor) runEmit(ctx context.Context, spec *config.EmitSpec, sctx *Context) error {
	vars := sctx.Vars()

	// Resolving: namespace and connection. No message is sent on failure.
	namespace := template.Render(spec.Namespace, vars)
	client, err := e.registry.Obtain(ctx, namespace, sctx)
	if err != nil {
		e.emitError(sctx, err)
		return err
	}

	channel := template.Render(spec.Channel, vars)
	if channel == "" {
		err := fmt.Errorf("%w: emit step has no channel", ErrInvalidArguments)
		e.emitError(sctx, err)
		return err
	}

	payload, err := json.Marshal(template.RenderTree(spec.Data, vars))
	if err != nil {
		err = fmt.Errorf("%w: emit data: %v", ErrInvalidArguments, err)
		e.emitError(sctx, err)
		return err
	}

	// Emitting: request notification and the monotonic start timestamp.
	e.metrics.Emit(metrics.Event{Type: metrics.EventRequest, ContextID: sctx.ID, Channel: channel})
	start := time.Now()

	timeout := e.timeoutFor(spec)
	validate := e.validatorFor(sctx)

	var waitErr error
	switch {
	case len(spec.Response) > 0:
		var hook BeforeResponseHook
		if spec.BeforeResponse != "" {
			hook = e.before[spec.BeforeResponse]
		}

		// Listeners open before the message goes out so no reply can be lost.
		corr, cerr := newCorrelator(client, spec.Response, sctx, hook, validate)
		if cerr != nil {
			err := &ConnectionError{Namespace: namespace, Err: cerr}
			e.emitError(sctx, err)
			return err
		}
		corr.start()

		// An acknowledgement may be required in addition to the responses;
		// its callback rides on the same transmit.
		var waiter *ackWaiter
		var ackCb transport.AckCallback
		if spec.Acknowledge != nil {
			waiter = newAckWaiter(spec.Acknowledge, validate)
			ackCb = waiter.callback
		}

		if terr := client.Transmit(ctx, channel, payload, ackCb); terr != nil {
			corr.complete(&ConnectionError{Namespace: namespace, Err: terr})
			waitErr = corr.await(timeout)
			e.emitError(sctx, waitErr)
			return waitErr
		}

		// Both requirements share the step's single deadline.
		deadline := time.Now().Add(timeout)
		sctx.pendingAdd(1)
		waitErr = corr.await(timeout)
		if waitErr == nil && waiter != nil {
			waitErr = waiter.await(time.Until(deadline))
		}
		sctx.pendingAdd(-1)

	case spec.Acknowledge != nil:
		waiter := newAckWaiter(spec.Acknowledge, validate)
		if terr := client.Transmit(ctx, channel, payload, waiter.callback); terr != nil {
			err := &ConnectionError{Namespace: namespace, Err: terr}
			e.emitError(sctx, err)
			return err
		}
		sctx.pendingAdd(1)
		waitErr = waiter.await(timeout)
		sctx.pendingAdd(-1)

	default:
		// Fire and immediately succeed: no listener, zero additional wait.
		if terr := client.Transmit(ctx, channel, payload, nil); terr != nil {
			err := &ConnectionError{Namespace: namespace, Err: terr}
			e.emitError(sctx, err)
			return err
		}
	}

	if waitErr != nil {
		ev := metrics.Event{
			Type:      metrics.EventError,
			ContextID: sctx.ID,
			Channel:   channel,
			Reason:    errorReason(waitErr),
		}
		// A timeout has no meaningful duration; everything else completed at
		// a measurable instant.
		if !IsTimeout(waitErr) {
			ev.Latency = time.Since(start)
		}
		e.metrics.Emit(ev)
		return waitErr
	}

	// Latency is measured at completion; a timeout never reaches here.
	sctx.AddSuccess()
	e.metrics.Emit(metrics.Event{
		Type:      metrics.EventResponse,
		ContextID: sctx.ID,
		Channel:   channel,
		Latency:   time.Since(start),
	})
	return nil
}

func (e *Executor) timeoutFor(spec *config.EmitSpec) time.Duration {
	if spec.Timeout > 0 {
		return time.Duration(spec.Timeout * float64(time.Second))
	}
	return e.settings.ResponseTimeout()
}

// validatorFor builds the validation path shared by the correlator and the
// acknowledgement handler: exact-data equality when an expectation is given,
// otherwise schema plus capture/match. Captures merge into vars only after
// everything for the message passed.
func (e *Executor) validatorFor(sctx *Context) validateFunc {
	return func(channel string, data json.RawMessage, spec *config.ResponseSpec) error {
		vars := sctx.Vars()

		if spec.Data != nil {
			expected := template.RenderTree(spec.Data, vars)
			equal, expStr, gotStr := jsonEqual(expected, data)
			if !equal {
				return &DataMismatchError{Channel: channel, Expected: expStr, Got: gotStr}
			}
			return nil
		}

		var results []capture.Result

		if schema := e.schemas[spec]; schema != nil {
			results = append(results, evaluateSchema(schema, data))
		}

		rules := make([]capture.Rule, 0, len(spec.Capture))
		for _, c := range spec.Capture {
			rules = append(rules, capture.Rule{As: c.As, Path: template.Render(c.JSON, vars)})
		}
		captured, capErr := capture.Apply(data, rules)
		if capErr != nil {
			results = append(results, capture.Result{
				Expression: "capture",
				Expected:   "value present",
				Got:        capErr.Error(),
			})
		}

		matches := make([]capture.Match, 0, len(spec.Match))
		for _, m := range spec.Match {
			matches = append(matches, capture.Match{
				Path:      template.Render(m.JSON, vars),
				Condition: m.Condition,
				Value:     template.Render(m.Value, vars),
			})
		}
		results = append(results, capture.Evaluate(data, matches)...)

		failed := false
		for _, r := range results {
			e.metrics.Emit(metrics.Event{
				Type:       metrics.EventMatch,
				ContextID:  sctx.ID,
				Channel:    channel,
				MatchOK:    r.OK,
				Expected:   r.Expected,
				Got:        r.Got,
				Expression: r.Expression,
			})
			if !r.OK {
				failed = true
			}
		}
		if failed {
			return &MatchFailureError{Channel: channel, Results: results}
		}

		sctx.MergeVars(captured)
		return nil
	}
}

func evaluateSchema(schema *jsonschema.Schema, data []byte) capture.Result {
	res := capture.Result{Expression: "schema", Expected: "valid"}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		res.Got = fmt.Sprintf("invalid JSON: %v", err)
		return res
	}
	if err := schema.Validate(doc); err != nil {
		res.Got = err.Error()
		return res
	}
	res.Got = "valid"
	res.OK = true
	return res
}

// jsonEqual compares an expected payload tree against raw JSON by
// normalizing both sides through encoding/json, so key order, whitespace,
// and YAML-vs-JSON number types never matter.
func jsonEqual(expected interface{}, got json.RawMessage) (bool, string, string) {
	expBytes, err := json.Marshal(expected)
	if err != nil {
		return false, fmt.Sprintf("%v", expected), string(got)
	}

	var expNorm, gotNorm interface{}
	if err := json.Unmarshal(expBytes, &expNorm); err != nil {
		return false, string(expBytes), string(got)
	}
	if err := json.Unmarshal(got, &gotNorm); err != nil {
		return false, string(expBytes), string(got)
	}
	return reflect.DeepEqual(expNorm, gotNorm), string(expBytes), string(got)
}

func (e *Executor) emitError(sctx *Context, err error) {
	e.metrics.Emit(metrics.Event{
		Type:      metrics.EventError,
		ContextID: sctx.ID,
		Reason:    errorReason(err),
	})
}

// IsTimeout reports whether an error is a step timeout.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}
