// Package types holds leaf types shared across the module.
package types

// CallMeta identifies one RPC call body moving through the relay.
// Every log entry produced while handling the call carries these fields.
type CallMeta struct {
	// CallID uniquely identifies the call within the process.
	CallID string
	// Service is the logical service name the call belongs to, if known.
	Service string
	// Transport names the byte transport the frames arrived on
	// (e.g. "pipe", "tcp").
	Transport string
}
