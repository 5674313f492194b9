package scenario

import (
	"fmt"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/transport"
)

// BeforeResponseHook inspects a raw inbound message before it is validated
// against the currently expected response. Returning false skips the message
// without advancing the channel's arrival index, which lets a step ignore
// unrelated traffic on a shared channel.
type BeforeResponseHook func(msg transport.Message, expected *config.ResponseSpec, sctx *Context) bool

// PredicateHook drives a whileTrue loop: the loop stops the first time the
// hook returns false.
type PredicateHook func(sctx *Context) bool

// Hooks maps hook names used in scenario files to typed callables. Names are
// resolved once when the scenario is compiled; an absent name fails the
// compile, never a mid-run step.
type Hooks struct {
	before     map[string]BeforeResponseHook
	predicates map[string]PredicateHook
}

// NewHooks creates an empty hook registry.
func NewHooks() *Hooks {
	return &Hooks{
		before:     make(map[string]BeforeResponseHook),
		predicates: make(map[string]PredicateHook),
	}
}

// RegisterBeforeResponse registers a beforeResponse hook under a name.
func (h *Hooks) RegisterBeforeResponse(name string, fn BeforeResponseHook) {
	h.before[name] = fn
}

// RegisterPredicate registers a whileTrue predicate under a name.
func (h *Hooks) RegisterPredicate(name string, fn PredicateHook) {
	h.predicates[name] = fn
}

func (h *Hooks) beforeResponse(name string) (BeforeResponseHook, error) {
	fn, ok := h.before[name]
	if !ok {
		return nil, fmt.Errorf("unknown beforeResponse hook %q", name)
	}
	return fn, nil
}

func (h *Hooks) predicate(name string) (PredicateHook, error) {
	fn, ok := h.predicates[name]
	if !ok {
		return nil, fmt.Errorf("unknown whileTrue hook %q", name)
	}
	return fn, nil
}
