package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/template"
	"github.com/wesleyorama2/surge/internal/transport"
)

// Registry creates and caches one channel client per logical namespace for a
// scenario context. A client is created at most once per context and reused
// for the context's lifetime.
type Registry struct {
	dialer   transport.Dialer
	settings *config.Settings
}

// NewRegistry creates a registry that dials through the given dialer using
// the scenario's connection settings.
func NewRegistry(dialer transport.Dialer, settings *config.Settings) *Registry {
	return &Registry{dialer: dialer, settings: settings}
}

// Obtain returns the context's client for a namespace, creating it on first
// use. Creation blocks until the transport reports either a connect or an
// error notification, whichever comes first.
func (r *Registry) Obtain(ctx context.Context, namespace string, sctx *Context) (transport.Client, error) {
	if client, ok := sctx.Socket(namespace); ok {
		return client, nil
	}

	opts, err := r.renderOptions(namespace, sctx)
	if err != nil {
		return nil, &ConnectionError{Namespace: namespace, Err: err}
	}

	client, err := r.dialer.Dial(ctx, opts)
	if err != nil {
		return nil, &ConnectionError{Namespace: namespace, Err: err}
	}

	select {
	case <-client.Listener(transport.EventConnect):
	case ev := <-client.Listener(transport.EventError):
		client.Disconnect()
		return nil, &ConnectionError{Namespace: namespace, Err: ev.Err}
	case <-ctx.Done():
		client.Disconnect()
		return nil, &ConnectionError{Namespace: namespace, Err: ctx.Err()}
	}

	sctx.storeSocket(namespace, client)
	return client, nil
}

// renderOptions builds transport options from the scenario settings with
// every templated field rendered against current vars.
func (r *Registry) renderOptions(namespace string, sctx *Context) (transport.Options, error) {
	vars := sctx.Vars()

	opts := transport.Options{
		Target:             template.Render(r.settings.Target, vars),
		Namespace:          namespace,
		InsecureSkipVerify: r.settings.TLS.InsecureSkipVerify,
	}
	if len(r.settings.Socket.Headers) > 0 {
		opts.Headers = make(map[string]string, len(r.settings.Socket.Headers))
		for k, v := range r.settings.Socket.Headers {
			opts.Headers[k] = template.Render(v, vars)
		}
	}
	if s := r.settings.Socket.ConnectTimeout; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return opts, fmt.Errorf("socket.connectTimeout: %w", err)
		}
		opts.ConnectTimeout = d
	}
	return opts, nil
}

// Close disconnects every client stored in the context. Idempotent, never
// errors: cleanup runs on both successful and failed scenario exits.
func (r *Registry) Close(sctx *Context) {
	for _, client := range sctx.takeSockets() {
		_ = client.Disconnect()
	}
}
