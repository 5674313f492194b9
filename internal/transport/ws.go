package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultConnectTimeout = 10 * time.Second

// frame is the wire envelope. Outbound publishes and subscriptions carry an
// event name plus a correlation id (cid); the remote answers an
// acknowledged transmit with a frame whose rid echoes that cid.
type frame struct {
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	CID   uint64          `json:"cid,omitempty"`
	RID   uint64          `json:"rid,omitempty"`
	Error *frameError     `json:"error,omitempty"`
}

type frameError struct {
	Message string `json:"message"`
}

type publishPayload struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// WSDialer creates websocket-backed clients.
type WSDialer struct{}

// Dial implements Dialer. The returned client connects in the background;
// callers observe the outcome through Listener("connect") / Listener("error").
func (WSDialer) Dial(ctx context.Context, opts Options) (Client, error) {
	url := strings.TrimSuffix(opts.Target, "/") + opts.Namespace
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("dial %q: target must be a ws:// or wss:// URL", url)
	}

	c := &wsClient{
		url:       url,
		opts:      opts,
		receivers: make(map[string]*subscription),
		events:    make(map[string]chan Event),
		pending:   make(map[uint64]AckCallback),
		done:      make(chan struct{}),
	}
	c.events[EventConnect] = make(chan Event, 1)
	c.events[EventError] = make(chan Event, 4)

	go c.connect(ctx)
	return c, nil
}

type wsClient struct {
	url  string
	opts Options

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu        sync.Mutex
	receivers map[string]*subscription
	events    map[string]chan Event
	pending   map[uint64]AckCallback
	nextCID   uint64
	closed    bool

	done chan struct{}
}

func (c *wsClient) connect(ctx context.Context) {
	timeout := c.opts.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.opts.InsecureSkipVerify},
	}
	header := http.Header{}
	for k, v := range c.opts.Headers {
		header.Set(k, v)
	}

	conn, _, err := dialer.DialContext(dialCtx, c.url, header)
	if err != nil {
		c.emitEvent(Event{Name: EventError, Err: fmt.Errorf("dial %s: %w", c.url, err)})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.emitEvent(Event{Name: EventConnect})
	go c.readLoop()
}

func (c *wsClient) emitEvent(ev Event) {
	c.mu.Lock()
	ch, ok := c.events[ev.Name]
	if !ok {
		ch = make(chan Event, 4)
		c.events[ev.Name] = ch
	}
	c.mu.Unlock()

	select {
	case ch <- ev:
	default: // listener is not draining; drop rather than wedge the read loop
	}
}

func (c *wsClient) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				c.emitEvent(Event{Name: EventError, Err: fmt.Errorf("read: %w", err)})
			}
			return
		}
		c.dispatch(&f)
	}
}

func (c *wsClient) dispatch(f *frame) {
	switch {
	case f.RID != 0:
		c.mu.Lock()
		ack := c.pending[f.RID]
		delete(c.pending, f.RID)
		c.mu.Unlock()
		if ack == nil {
			return
		}
		var err error
		if f.Error != nil {
			err = fmt.Errorf("remote: %s", f.Error.Message)
		}
		ack(splitAckArgs(f.Data), err)

	case f.Event == "#publish":
		var p publishPayload
		if json.Unmarshal(f.Data, &p) != nil || p.Channel == "" {
			return
		}
		c.mu.Lock()
		sub := c.receivers[p.Channel]
		c.mu.Unlock()
		if sub != nil {
			sub.deliver(Message{Channel: p.Channel, Data: p.Data})
		}
	}
}

// splitAckArgs treats a JSON array as a positional argument list and any
// other payload as a single argument.
func splitAckArgs(data json.RawMessage) AckArgs {
	if len(data) == 0 {
		return nil
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var args []json.RawMessage
		if err := json.Unmarshal(data, &args); err == nil {
			return args
		}
	}
	return AckArgs{data}
}

func (c *wsClient) writeFrame(f *frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("write %s: not connected", f.Event)
	}
	return c.conn.WriteJSON(f)
}

func (c *wsClient) Transmit(ctx context.Context, channel string, data json.RawMessage, ack AckCallback) error {
	payload, err := json.Marshal(publishPayload{Channel: channel, Data: data})
	if err != nil {
		return fmt.Errorf("transmit on %q: %w", channel, err)
	}

	f := &frame{Event: "#publish", Data: payload}
	if ack != nil {
		c.mu.Lock()
		c.nextCID++
		f.CID = c.nextCID
		c.pending[f.CID] = ack
		c.mu.Unlock()
	}

	if err := c.writeFrame(f); err != nil {
		if ack != nil {
			c.mu.Lock()
			delete(c.pending, f.CID)
			c.mu.Unlock()
		}
		return fmt.Errorf("transmit on %q: %w", channel, err)
	}
	return nil
}

func (c *wsClient) Receiver(channel string) (<-chan Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("receiver on %q: client disconnected", channel)
	}
	if sub, ok := c.receivers[channel]; ok {
		c.mu.Unlock()
		return sub.ch, nil
	}
	sub := &subscription{ch: make(chan Message, 64)}
	c.receivers[channel] = sub
	c.nextCID++
	cid := c.nextCID
	c.mu.Unlock()

	payload, _ := json.Marshal(publishPayload{Channel: channel})
	if err := c.writeFrame(&frame{Event: "#subscribe", Data: payload, CID: cid}); err != nil {
		c.mu.Lock()
		delete(c.receivers, channel)
		c.mu.Unlock()
		sub.close()
		return nil, fmt.Errorf("subscribe %q: %w", channel, err)
	}
	return sub.ch, nil
}

func (c *wsClient) CloseReceiver(channel string) {
	c.mu.Lock()
	sub, ok := c.receivers[channel]
	if ok {
		delete(c.receivers, channel)
		c.nextCID++
	}
	cid := c.nextCID
	c.mu.Unlock()
	if !ok {
		return
	}

	payload, _ := json.Marshal(publishPayload{Channel: channel})
	_ = c.writeFrame(&frame{Event: "#unsubscribe", Data: payload, CID: cid})
	sub.close()
}

func (c *wsClient) Listener(event string) <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.events[event]
	if !ok {
		ch = make(chan Event, 4)
		c.events[event] = ch
	}
	return ch
}

func (c *wsClient) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	receivers := c.receivers
	c.receivers = make(map[string]*subscription)
	conn := c.conn
	c.mu.Unlock()

	for _, sub := range receivers {
		sub.close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
