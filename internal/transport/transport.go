// Package transport defines the channel-client contract that the scenario
// engine drives, together with two implementations: an in-memory broker used
// by tests and loopback runs, and a websocket adapter for real targets.
package transport

import (
	"context"
	"encoding/json"
	"time"
)

// Lifecycle event names delivered through Client.Listener.
const (
	EventConnect = "connect"
	EventError   = "error"
)

// Message is a single inbound publish on a subscribed channel.
type Message struct {
	Channel string
	Data    json.RawMessage
}

// Event is a named connection lifecycle notification.
type Event struct {
	Name string
	Err  error
}

// AckArgs is the ordered argument list carried by a delivery acknowledgement.
// Elements are addressable by position; most protocols send exactly one.
type AckArgs []json.RawMessage

// AckCallback receives the remote acknowledgement for a single transmit.
// err is non-nil when the remote reported a delivery error.
type AckCallback func(args AckArgs, err error)

// Client is a persistent connection to one logical namespace.
//
// Receiver returns a restartable stream of inbound messages for a channel;
// the stream stays open until CloseReceiver is called or the client
// disconnects. Listener behaves the same way for lifecycle events.
// Implementations must be safe for concurrent use: the correlator consumes
// several receivers from separate goroutines while transmits happen on the
// scenario goroutine.
type Client interface {
	// Transmit publishes data on a channel. When ack is non-nil the remote
	// delivery acknowledgement is delivered through it exactly once.
	Transmit(ctx context.Context, channel string, data json.RawMessage, ack AckCallback) error

	// Receiver subscribes to a channel and returns its message stream.
	// Calling Receiver again for the same channel returns the same stream.
	Receiver(channel string) (<-chan Message, error)

	// CloseReceiver unsubscribes from a channel and closes its stream.
	// Unknown channels are a no-op.
	CloseReceiver(channel string)

	// Listener returns the stream of lifecycle events with the given name.
	// At minimum "connect" and "error" are supported.
	Listener(event string) <-chan Event

	// Disconnect tears the connection down. Safe to call more than once.
	Disconnect() error
}

// Options describes how to reach one namespace of a target.
type Options struct {
	// Target is the base endpoint, e.g. "ws://host:8000".
	Target string

	// Namespace is appended to the target path, e.g. "/chat".
	Namespace string

	// InsecureSkipVerify disables TLS certificate verification for wss targets.
	InsecureSkipVerify bool

	// Headers are sent with the connection handshake.
	Headers map[string]string

	// ConnectTimeout bounds the dial; zero means the dialer default.
	ConnectTimeout time.Duration
}

// Dialer creates channel clients. The returned client may still be
// connecting; callers observe the outcome through Listener("connect") and
// Listener("error").
type Dialer interface {
	Dial(ctx context.Context, opts Options) (Client, error)
}
