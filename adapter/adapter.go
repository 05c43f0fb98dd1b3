// Package adapter defines the downstream notification boundary.
//
// Adapters publish call completion notifications to downstream systems.
// The relay owns adapter lifecycle; users provide configuration only.
package adapter

import "context"

// CallCompletedEvent is the payload published when a call body has been
// fully relayed (or terminally failed).
type CallCompletedEvent struct {
	Version    string `json:"version"`
	EventType  string `json:"event_type"` // always "call_completed"
	CallID     string `json:"call_id"`
	Service    string `json:"service,omitempty"`
	Transport  string `json:"transport"`
	Outcome    string `json:"outcome"` // completed, reset, stream_error, protocol_error, canceled
	Timestamp  string `json:"timestamp"` // ISO 8601
	FramesIn   int64  `json:"frames_in"`
	FramesOut  int64  `json:"frames_out"`
	Arg1Bytes  int64  `json:"arg1_bytes"`
	Arg2Bytes  int64  `json:"arg2_bytes"`
	Arg3Bytes  int64  `json:"arg3_bytes"`
	DurationMs int64  `json:"duration_ms"`
}

// Adapter publishes call completion events to a downstream system.
// Implementations must be safe for reuse across sequential calls.
type Adapter interface {
	// Publish sends a call completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *CallCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
