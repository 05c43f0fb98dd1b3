// Package argstream maps one RPC call body (exactly three ordered,
// independently-sized byte arguments) to and from the sequence of frame
// chunk-groups that carry it on the wire.
//
// The receive path is Inbound: the transport pushes frame chunk-groups and
// Inbound replays them as writes onto three Slots, which the application
// drains. The send path is Outbound: the application writes the three Slots
// independently and Outbound reassembles the writes into minimal, strictly
// ordered outgoing groups, coalescing same-tick writes and flushing on a
// cooperative tick boundary.
//
// Both directions guarantee the wire invariant: arg1's bytes fully precede
// arg2's, which fully precede arg3's, and an empty argument round-trips as
// a zero-length result rather than a missing one.
//
// A pair serves exactly one call body. All protocol errors are terminal:
// the first error is retained, surfaced via Err, and the pair must then be
// discarded.
package argstream

import "sync"

// NumArgs is the number of positional arguments in one call body.
const NumArgs = 3

// Group is one completed frame chunk-group. Chunks holds at most NumArgs
// elements; element i carries bytes for the argument at the group's base
// cursor plus i. Zero-length chunks are meaningful: they mark argument
// boundaries without contributing bytes. IsLast marks the final group of
// the call.
type Group struct {
	Chunks [][]byte
	IsLast bool
}

// pair is the scaffolding shared by Inbound and Outbound: it owns the three
// slots, the sequential-boundary rule, and the pair-level done/error
// surface.
//
// One mutex guards the whole pair. A single lock shared by the slots and
// the mux/demux keeps the slot/mux callback chains atomic without any
// internal lock ordering.
type pair struct {
	mu    sync.Mutex
	slots [NumArgs]*Slot

	err      error
	done     chan struct{}
	doneOnce bool

	// onSlotEnd, if set, observes every slot end transition. Inbound uses
	// it to count ends toward completion. Called with mu held.
	onSlotEnd func(n int)
}

func (p *pair) init(forward chunkSink) {
	p.done = make(chan struct{})
	for i := range p.slots {
		p.slots[i] = newSlot(p, i+1, forward)
	}
}

// Arg returns the slot for argument index n (1-based).
// Panics on an out-of-range index: that is caller misuse, not a wire
// condition.
func (p *pair) Arg(n int) *Slot {
	if n < 1 || n > NumArgs {
		panic("argstream: argument index out of range")
	}
	return p.slots[n-1]
}

// Done is closed once the pair finishes or fails. After Done, Err reports
// the terminal error, if any.
func (p *pair) Done() <-chan struct{} {
	return p.done
}

// Err returns the first error recorded on the pair, or nil.
func (p *pair) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// startArgLocked enforces the sequential boundary rule: the first write to
// argument n is itself proof that every earlier argument is complete, so
// any earlier slot not explicitly ended is ended here.
func (p *pair) startArgLocked(n int) error {
	for k := 0; k < n-1; k++ {
		if !p.slots[k].ended {
			if err := p.slots[k].endLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

// failLocked records the first terminal error and releases waiters.
func (p *pair) failLocked(err error) {
	if p.err == nil {
		p.err = err
	}
	p.closeDoneLocked()
}

func (p *pair) closeDoneLocked() {
	if !p.doneOnce {
		p.doneOnce = true
		close(p.done)
	}
}
