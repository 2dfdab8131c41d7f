// Package nats relays task events into NATS JetStream so other systems can
// follow task lifecycles without holding a connection to this process.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/TaskForge/internal/config"
	"github.com/Strob0t/TaskForge/internal/port/broadcast"
)

// Relay publishes every broadcast event onto a JetStream stream. It sits on
// the bridge's caster list next to the WebSocket hub.
type Relay struct {
	log    *slog.Logger
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

var _ broadcast.Broadcaster = (*Relay)(nil)

// Connect establishes the NATS connection and ensures the stream exists.
func Connect(ctx context.Context, log *slog.Logger, cfg config.NATS) (*Relay, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("taskforge-relay"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "taskforge"
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "TASKFORGE"
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{prefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats relay connected", "url", cfg.URL, "stream", stream, "prefix", prefix)
	return &Relay{log: log, nc: nc, js: js, prefix: prefix}, nil
}

// BroadcastEvent publishes one event. Publishes are asynchronous; the bridge
// fans out inline and must not stall on a slow broker.
func (r *Relay) BroadcastEvent(_ context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Warn("relay marshal failed", "event_type", eventType, "error", err)
		return
	}
	subject := r.prefix + "." + eventType
	if _, err := r.js.PublishAsync(subject, data); err != nil {
		r.log.Warn("relay publish failed", "subject", subject, "error", err)
	}
}

// JetStream exposes the underlying JetStream context, for wiring the shared
// KV cache onto the same connection.
func (r *Relay) JetStream() jetstream.JetStream {
	return r.js
}

// Close flushes outstanding publishes and closes the connection.
func (r *Relay) Close() error {
	select {
	case <-r.js.PublishAsyncComplete():
	case <-time.After(5 * time.Second):
		r.log.Warn("relay close timed out waiting for pending publishes")
	}
	r.nc.Close()
	return nil
}
