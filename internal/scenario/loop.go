package scenario

import (
	"context"
	"fmt"

	"github.com/wesleyorama2/surge/internal/config"
)

// defaultLoopValue is the variable each element of an `over` collection is
// bound to when the step names none.
const defaultLoopValue = "$loopElement"

// runLoop expands a repeat construct into a sequential run of the inner
// steps. All iterations share the step's context: mutations from one
// iteration are visible to the next, and the first inner-step error aborts
// the loop.
func (e *Executor) runLoop(ctx context.Context, step *config.Step, sctx *Context) error {
	switch {
	case step.Over != nil:
		return e.loopOver(ctx, step, sctx)
	case step.WhileTrue != "":
		return e.loopWhile(ctx, step, sctx)
	default:
		return e.loopCount(ctx, step, sctx)
	}
}

// loopCount runs the inner steps a fixed number of times. A count of -1 (or
// an absent count) is the degenerate loop: exactly one pass, never infinite.
func (e *Executor) loopCount(ctx context.Context, step *config.Step, sctx *Context) error {
	count := step.Count
	if count <= 0 {
		count = 1
	}
	for i := 0; i < count; i++ {
		if err := e.RunFlow(ctx, step.Loop, sctx); err != nil {
			return err
		}
	}
	return nil
}

// loopOver iterates an ordered collection, binding each element to the loop
// variable before running the inner steps.
func (e *Executor) loopOver(ctx context.Context, step *config.Step, sctx *Context) error {
	values, err := resolveOver(step.Over, sctx)
	if err != nil {
		e.emitError(sctx, err)
		return err
	}

	name := step.LoopValue
	if name == "" {
		name = defaultLoopValue
	}

	for _, value := range values {
		sctx.SetVar(name, value)
		if err := e.RunFlow(ctx, step.Loop, sctx); err != nil {
			return err
		}
	}
	return nil
}

// resolveOver accepts an inline list or the name of a variable holding one.
func resolveOver(over interface{}, sctx *Context) ([]interface{}, error) {
	switch v := over.(type) {
	case []interface{}:
		return v, nil
	case string:
		value, ok := sctx.Var(v)
		if !ok {
			return nil, fmt.Errorf("%w: loop over unknown variable %q", ErrInvalidArguments, v)
		}
		list, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: loop variable %q is not a collection", ErrInvalidArguments, v)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("%w: loop over must be a list or a variable name", ErrInvalidArguments)
	}
}

// loopWhile re-evaluates the predicate hook against current context state
// before every iteration and stops the first time it returns false.
func (e *Executor) loopWhile(ctx context.Context, step *config.Step, sctx *Context) error {
	pred := e.preds[step.WhileTrue]
	for pred(sctx) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.RunFlow(ctx, step.Loop, sctx); err != nil {
			return err
		}
	}
	return nil
}
