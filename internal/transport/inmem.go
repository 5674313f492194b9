package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// TransmitHandler reacts to a message transmitted through an in-memory
// client. Handlers run on the transmitting goroutine; ack may be nil when the
// sender did not request an acknowledgement.
type TransmitHandler func(channel string, data json.RawMessage, ack AckCallback)

// Broker is an in-process pub/sub hub. It stands in for a real server in
// tests and loopback runs: clients attach to it per namespace, and test code
// publishes replies or installs transmit handlers to script the remote side.
type Broker struct {
	mu       sync.Mutex
	subs     map[string]map[int]*subscription
	handlers map[string]TransmitHandler
	sent     []Message
	nextSub  int
}

// subscription guards its delivery channel so that a publish racing a close
// can never send on a closed channel.
type subscription struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func (s *subscription) deliver(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- m:
	default: // consumer stalled with a full buffer; drop rather than wedge
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs:     make(map[string]map[int]*subscription),
		handlers: make(map[string]TransmitHandler),
	}
}

// Publish delivers data to every subscriber of channel.
func (b *Broker) Publish(channel string, data json.RawMessage) {
	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs[channel]))
	for _, s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.deliver(Message{Channel: channel, Data: data})
	}
}

// Handle installs a transmit handler for a channel. Passing nil removes it.
func (b *Broker) Handle(channel string, h TransmitHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h == nil {
		delete(b.handlers, channel)
		return
	}
	b.handlers[channel] = h
}

// Sent returns a copy of every message transmitted through this broker, in
// order.
func (b *Broker) Sent() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.sent))
	copy(out, b.sent)
	return out
}

func (b *Broker) subscribe(channel string) (int, *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]*subscription)
	}
	// Buffered so a publisher is never blocked by a consumer mid-validation.
	s := &subscription{ch: make(chan Message, 64)}
	b.subs[channel][id] = s
	return id, s
}

func (b *Broker) unsubscribe(channel string, id int) {
	b.mu.Lock()
	s, ok := b.subs[channel][id]
	if ok {
		delete(b.subs[channel], id)
	}
	b.mu.Unlock()
	if ok {
		s.close()
	}
}

func (b *Broker) transmit(channel string, data json.RawMessage, ack AckCallback) {
	b.mu.Lock()
	b.sent = append(b.sent, Message{Channel: channel, Data: data})
	h := b.handlers[channel]
	b.mu.Unlock()

	if h != nil {
		h(channel, data, ack)
	}
}

// memClient is a Broker-backed Client. Connect succeeds immediately.
type memClient struct {
	broker *Broker

	mu        sync.Mutex
	receivers map[string]*memReceiver
	events    map[string]chan Event
	closed    bool
}

type memReceiver struct {
	id  int
	sub *subscription
}

// MemDialer attaches clients to a shared Broker.
type MemDialer struct {
	Broker *Broker
}

// Dial implements Dialer.
func (d *MemDialer) Dial(ctx context.Context, opts Options) (Client, error) {
	c := &memClient{
		broker:    d.Broker,
		receivers: make(map[string]*memReceiver),
		events:    make(map[string]chan Event),
	}
	// Connection is instantaneous: stage the connect event so a listener
	// attached later still observes it.
	connect := make(chan Event, 1)
	connect <- Event{Name: EventConnect}
	c.events[EventConnect] = connect
	c.events[EventError] = make(chan Event, 1)
	return c, nil
}

func (c *memClient) Transmit(ctx context.Context, channel string, data json.RawMessage, ack AckCallback) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("transmit on %q: client disconnected", channel)
	}
	c.broker.transmit(channel, data, ack)
	return nil
}

func (c *memClient) Receiver(channel string) (<-chan Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("receiver on %q: client disconnected", channel)
	}
	if r, ok := c.receivers[channel]; ok {
		return r.sub.ch, nil
	}
	id, sub := c.broker.subscribe(channel)
	c.receivers[channel] = &memReceiver{id: id, sub: sub}
	return sub.ch, nil
}

func (c *memClient) CloseReceiver(channel string) {
	c.mu.Lock()
	r, ok := c.receivers[channel]
	if ok {
		delete(c.receivers, channel)
	}
	c.mu.Unlock()
	if ok {
		c.broker.unsubscribe(channel, r.id)
	}
}

func (c *memClient) Listener(event string) <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.events[event]
	if !ok {
		ch = make(chan Event, 1)
		c.events[event] = ch
	}
	return ch
}

func (c *memClient) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	receivers := c.receivers
	c.receivers = make(map[string]*memReceiver)
	c.mu.Unlock()

	for channel, r := range receivers {
		c.broker.unsubscribe(channel, r.id)
	}
	return nil
}
