// Package broadcast defines the port for fanning task events out to
// realtime consumers (WebSocket clients, the NATS relay, telemetry).
package broadcast

import "context"

// Broadcaster receives every event the bridge publishes, uncoalesced.
// Implementations must not block: a slow consumer drops or buffers on its
// own side, never back into the task executors.
type Broadcaster interface {
	// BroadcastEvent sends one typed event to all attached consumers.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
