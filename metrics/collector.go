// Package metrics provides per-connection metrics collection.
//
// The Collector accumulates counters while calls move through the relay.
// It is a leaf package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all collected metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Call lifecycle
	CallsStarted   int64
	CallsCompleted int64
	CallsFailed    int64

	// Frames
	FramesIn  int64
	FramesOut int64

	// Bytes per argument slot, indexed 1..3 (index 0 unused).
	ArgBytesIn  [4]int64
	ArgBytesOut [4]int64

	// Errors
	DecodeErrors   int64
	ProtocolErrors int64

	// Dimensions (informational, set at construction)
	Transport string
	PeerID    string
}

// Collector accumulates metrics for one connection's calls.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	callsStarted   int64
	callsCompleted int64
	callsFailed    int64

	framesIn  int64
	framesOut int64

	argBytesIn  [4]int64
	argBytesOut [4]int64

	decodeErrors   int64
	protocolErrors int64

	transport string
	peerID    string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(transport, peerID string) *Collector {
	return &Collector{
		transport: transport,
		peerID:    peerID,
	}
}

// --- Call lifecycle ---

// IncCallStarted records a call entering the relay.
func (c *Collector) IncCallStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.callsStarted++
	c.mu.Unlock()
}

// IncCallCompleted records a call relayed to completion.
func (c *Collector) IncCallCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.callsCompleted++
	c.mu.Unlock()
}

// IncCallFailed records a call terminated by a stream or protocol error.
func (c *Collector) IncCallFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.callsFailed++
	c.mu.Unlock()
}

// --- Frames ---

// IncFramesIn records one frame consumed from the transport.
func (c *Collector) IncFramesIn() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesIn++
	c.mu.Unlock()
}

// IncFramesOut records one frame emitted to the transport.
func (c *Collector) IncFramesOut() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesOut++
	c.mu.Unlock()
}

// AddArgBytesIn records bytes received for argument slot n (1..3).
func (c *Collector) AddArgBytesIn(n int, bytes int64) {
	if c == nil || n < 1 || n > 3 {
		return
	}
	c.mu.Lock()
	c.argBytesIn[n] += bytes
	c.mu.Unlock()
}

// AddArgBytesOut records bytes sent for argument slot n (1..3).
func (c *Collector) AddArgBytesOut(n int, bytes int64) {
	if c == nil || n < 1 || n > 3 {
		return
	}
	c.mu.Lock()
	c.argBytesOut[n] += bytes
	c.mu.Unlock()
}

// --- Errors ---

// IncDecodeErrors records a wire frame decode error.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeErrors++
	c.mu.Unlock()
}

// IncProtocolErrors records an argument-stream protocol error
// (arity violation, out-of-order data, post-finish push).
func (c *Collector) IncProtocolErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.protocolErrors++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		CallsStarted:   c.callsStarted,
		CallsCompleted: c.callsCompleted,
		CallsFailed:    c.callsFailed,

		FramesIn:  c.framesIn,
		FramesOut: c.framesOut,

		ArgBytesIn:  c.argBytesIn,
		ArgBytesOut: c.argBytesOut,

		DecodeErrors:   c.decodeErrors,
		ProtocolErrors: c.protocolErrors,

		Transport: c.transport,
		PeerID:    c.peerID,
	}
}
