// Package runner launches virtual users and aggregates their results.
//
// Each virtual user executes the scenario flow as a strictly sequential
// chain of steps against its own context. Across users the chains run
// concurrently and independently: no context, connection, or variable is
// shared, and one user's failure never affects another.
package runner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/scenario"
	"github.com/wesleyorama2/surge/internal/transport"
)

// Options controls how many users run and how fast they start.
type Options struct {
	// VUs is the number of virtual users (default 1).
	VUs int

	// RampRate is how many users start per second; 0 starts them all at once.
	RampRate float64
}

// UserError records one virtual user's terminal failure.
type UserError struct {
	ContextID string
	Err       error
}

// Result summarizes a completed run.
type Result struct {
	Users     int
	Succeeded int
	Failed    int
	Errors    []UserError
	Snapshot  *metrics.Snapshot
}

// Runner executes one scenario with a population of virtual users.
type Runner struct {
	scenario *config.Scenario
	executor *scenario.Executor
	engine   *metrics.Engine
	opts     Options
}

// New compiles the scenario and prepares a runner. Hook names and inline
// schemas are resolved here, before any user starts.
func New(sc *config.Scenario, dialer transport.Dialer, engine *metrics.Engine, hooks *scenario.Hooks, delegate scenario.Delegate, opts Options) (*Runner, error) {
	if opts.VUs <= 0 {
		opts.VUs = 1
	}
	exec, err := scenario.NewExecutor(sc, dialer, engine, hooks, delegate)
	if err != nil {
		return nil, err
	}
	return &Runner{scenario: sc, executor: exec, engine: engine, opts: opts}, nil
}

// Run starts every virtual user, paced by the ramp rate, and blocks until
// all of them finish. A user that errors ends early; its sockets are closed
// on the way out either way.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	limit := rate.Inf
	if r.opts.RampRate > 0 {
		limit = rate.Limit(r.opts.RampRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	result := &Result{Users: r.opts.VUs}

	for i := 0; i < r.opts.VUs; i++ {
		if err := limiter.Wait(ctx); err != nil {
			mu.Lock()
			result.Users = i
			mu.Unlock()
			break
		}

		g.Go(func() error {
			sctx := scenario.NewContext(r.scenario.Variables)
			r.engine.Emit(metrics.Event{Type: metrics.EventStarted, ContextID: sctx.ID})

			err := r.executor.RunFlow(ctx, r.scenario.Flow, sctx)
			r.executor.CloseSockets(sctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, UserError{ContextID: sctx.ID, Err: err})
			} else {
				result.Succeeded++
			}
			return nil
		})
	}

	// Users never propagate errors through the group: a failed scenario is a
	// result, not a reason to cancel the rest.
	_ = g.Wait()

	result.Snapshot = r.engine.GetSnapshot()
	return result, ctx.Err()
}
