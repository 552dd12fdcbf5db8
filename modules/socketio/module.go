// Package socketio forwards progress events to a Socket.IO endpoint so
// external dashboards can follow a migration run live. Delivery is best
// effort: events raised before the connection is up are dropped, never
// buffered, and emit failures do not disturb the run.
package socketio

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/migwave/internal/ctxlog"
	"github.com/vk/migwave/internal/progress"
)

// Options configures the forwarder.
type Options struct {
	// URL is the Socket.IO endpoint, for example http://host:3000/socket.io.
	URL string
	// Namespace to join. Empty means the root namespace.
	Namespace string
	// Event name emitted per progress event. Empty means "migration_progress".
	Event string
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// Forwarder is a progress.Sink backed by a Socket.IO client connection.
type Forwarder struct {
	io        *socket.Socket
	event     string
	connected atomic.Bool
}

// NewForwarder connects to the endpoint in the background and returns
// immediately. The connection is established asynchronously; Publish drops
// events until it is up.
func NewForwarder(ctx context.Context, o Options) (*Forwarder, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", o.URL)

	parsedURL, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if o.Event == "" {
		o.Event = "migration_progress"
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(o.Namespace, opts)

	f := &Forwarder{io: io, event: o.Event}

	io.On(types.EventName("connect"), func(...any) {
		f.connected.Store(true)
		logger.Info("Progress sink connected.", "namespace", o.Namespace, "sid", io.Id())
	})
	io.On(types.EventName("disconnect"), func(...any) {
		f.connected.Store(false)
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		logger.Warn("Progress sink connection error.", "error", errs)
	})

	io.Connect()
	return f, nil
}

// Publish emits one progress event. Events raised while disconnected are
// dropped.
func (f *Forwarder) Publish(ctx context.Context, ev progress.Event) {
	if !f.connected.Load() {
		ctxlog.FromContext(ctx).Debug("Progress sink not connected, dropping event.", "kind", ev.Kind)
		return
	}
	f.io.Emit(f.event, map[string]any{
		"kind":        string(ev.Kind),
		"program":     ev.ProgramID.String(),
		"workload":    ev.Workload,
		"wave":        ev.Wave,
		"stage":       ev.Stage.String(),
		"status":      ev.Status.String(),
		"diagnostics": ev.Diagnostics,
		"duration_ms": ev.Duration.Milliseconds(),
		"at":          ev.At.UTC(),
	})
}

// Close disconnects the underlying socket.
func (f *Forwarder) Close() {
	f.connected.Store(false)
	f.io.Disconnect()
}
