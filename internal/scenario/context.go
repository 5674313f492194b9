// Package scenario executes one virtual user's scripted scenario: it runs
// steps sequentially, emits messages on channels, and correlates replies
// against the step's expected responses.
package scenario

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wesleyorama2/surge/internal/transport"
)

// Context is the mutable state threaded through one virtual user's run.
// It owns the user's variables and channel clients exclusively; contexts are
// never shared between virtual users.
//
// Only one step runs at a time per context, but a step's correlator
// validates messages from several listener goroutines, so access is
// mutex-guarded the same way the per-VU variable scope always has been.
type Context struct {
	// ID identifies this virtual user in run events.
	ID string

	mu        sync.RWMutex
	vars      map[string]interface{}
	sockets   map[string]transport.Client
	successes int
	pending   int
}

// NewContext creates a context seeded with the scenario's initial variables.
func NewContext(vars map[string]interface{}) *Context {
	seeded := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		seeded[k] = v
	}
	return &Context{
		ID:      uuid.NewString(),
		vars:    seeded,
		sockets: make(map[string]transport.Client),
	}
}

// Var returns one variable's value.
func (c *Context) Var(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[name]
	return v, ok
}

// SetVar sets one variable.
func (c *Context) SetVar(name string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
}

// Vars returns a copy of the variable map, safe to hand to the renderer.
func (c *Context) Vars() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// MergeVars merges captured values into the variable map in one step, so a
// validated response either lands completely or not at all.
func (c *Context) MergeVars(captured map[string]interface{}) {
	if len(captured) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range captured {
		c.vars[k] = v
	}
}

// Socket returns the channel client stored for a namespace, if any.
func (c *Context) Socket(namespace string) (transport.Client, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	client, ok := c.sockets[namespace]
	return client, ok
}

func (c *Context) storeSocket(namespace string, client transport.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sockets[namespace] = client
}

func (c *Context) takeSockets() map[string]transport.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	sockets := c.sockets
	c.sockets = make(map[string]transport.Client)
	return sockets
}

// AddSuccess bumps the success counter.
func (c *Context) AddSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes++
}

// Successes returns how many steps completed successfully.
func (c *Context) Successes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.successes
}

func (c *Context) pendingAdd(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending += delta
}

// Pending returns how many steps are currently awaiting replies. At most one
// per context, since steps run sequentially.
func (c *Context) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pending
}
