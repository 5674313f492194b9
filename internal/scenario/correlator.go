package scenario

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/template"
	"github.com/wesleyorama2/surge/internal/transport"
)

// validateFunc validates one inbound payload against the expected response
// it is indexed to. Implemented by the executor so the correlator stays a
// pure ordering/counting machine.
type validateFunc func(channel string, data json.RawMessage, spec *config.ResponseSpec) error

// correlator matches an unordered arrival of messages across one or more
// channels against an ordered list of expected responses.
//
// Responses are grouped by rendered channel name. Each group is consumed by
// its own goroutine in arrival order and matched against that group's specs
// in declaration order; there is no ordering between groups. The step
// completes when the total received count reaches the total required count,
// or fails on the first validation error or on timeout. Completion fires
// exactly once, enforced with a compare-and-set.
type correlator struct {
	client   transport.Client
	groups   []*channelGroup
	required int
	before   BeforeResponseHook
	validate validateFunc
	sctx     *Context

	mu       sync.Mutex
	received int

	completed atomic.Bool
	err       error
	done      chan struct{}
	wg        sync.WaitGroup
}

// channelGroup tracks one channel's expected responses: the arrival index
// (next expected position) and how many have been accepted.
type channelGroup struct {
	channel  string
	specs    []*config.ResponseSpec
	next     int
	received int
	stream   <-chan transport.Message
}

// newCorrelator groups the step's expected responses by rendered channel
// name and opens one listener per distinct channel. The per-channel and
// global required counts are fixed here, before any message is sent.
func newCorrelator(client transport.Client, specs []*config.ResponseSpec, sctx *Context, before BeforeResponseHook, validate validateFunc) (*correlator, error) {
	vars := sctx.Vars()

	c := &correlator{
		client:   client,
		before:   before,
		validate: validate,
		sctx:     sctx,
		done:     make(chan struct{}),
	}

	byChannel := make(map[string]*channelGroup)
	for _, spec := range specs {
		channel := template.Render(spec.Channel, vars)
		group, ok := byChannel[channel]
		if !ok {
			group = &channelGroup{channel: channel}
			byChannel[channel] = group
			c.groups = append(c.groups, group)
		}
		group.specs = append(group.specs, spec)
		c.required++
	}

	for _, group := range c.groups {
		stream, err := client.Receiver(group.channel)
		if err != nil {
			// Roll back listeners opened so far.
			for _, opened := range c.groups {
				if opened.stream != nil {
					client.CloseReceiver(opened.channel)
				}
			}
			return nil, err
		}
		group.stream = stream
	}
	return c, nil
}

// start launches one consumer goroutine per channel group. Called before the
// outgoing message is emitted so no reply can slip past.
func (c *correlator) start() {
	for _, group := range c.groups {
		c.wg.Add(1)
		go c.consume(group)
	}
}

func (c *correlator) consume(g *channelGroup) {
	defer c.wg.Done()
	for {
		select {
		case msg, ok := <-g.stream:
			if !ok {
				return
			}
			c.handle(g, msg)
		case <-c.done:
			return
		}
	}
}

// handle processes one arrived message. Validation across groups is
// serialized by c.mu so captures merge into vars one message at a time.
func (c *correlator) handle(g *channelGroup, msg transport.Message) {
	c.mu.Lock()
	if c.completed.Load() || g.received >= len(g.specs) {
		c.mu.Unlock()
		return
	}

	spec := g.specs[g.next]
	if c.before != nil && !c.before(msg, spec, c.sctx) {
		// Hook vetoed the message: ignore it without advancing the index.
		c.mu.Unlock()
		return
	}

	if err := c.validate(g.channel, msg.Data, spec); err != nil {
		c.mu.Unlock()
		c.complete(err)
		return
	}

	g.next++
	g.received++
	c.received++
	groupDone := g.received == len(g.specs)
	allDone := c.received == c.required
	c.mu.Unlock()

	if allDone {
		c.complete(nil)
		return
	}
	if groupDone {
		// This channel owes nothing more; stop consuming it for this step.
		c.client.CloseReceiver(g.channel)
	}
}

// complete declares the step's terminal outcome exactly once and closes
// every listener the step opened, so no subscription leaks past the step.
func (c *correlator) complete(err error) {
	if !c.completed.CompareAndSwap(false, true) {
		return
	}
	c.err = err
	close(c.done)
	for _, group := range c.groups {
		c.client.CloseReceiver(group.channel)
	}
}

// await blocks until the step completes or the timeout fires, whichever is
// first. One timer guards the whole step, shared by all channel groups.
func (c *correlator) await(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
		c.mu.Lock()
		received := c.received
		c.mu.Unlock()
		c.complete(&TimeoutError{Timeout: timeout, Received: received, Required: c.required})
		<-c.done
	}

	c.wg.Wait()
	return c.err
}
