package argstream

import "github.com/benbjohnson/clock"

// Outbound multiplexes writes arriving independently on the three argument
// slots back into strictly ordered frame chunk-groups.
//
// Writes are not guaranteed to arrive in argument order relative to each
// other (the producer may write arg3 before ending arg2), so the mux
// reconciles against a monotone assembly cursor: late end signals are
// recorded and accounted for when the cursor reaches them, while late data
// is a protocol error. Writes landing within one scheduler tick coalesce
// into a single chunk per argument, and the pending frame is flushed by a
// one-shot deferred task, or immediately as the final group once all
// three slots have ended.
//
// The emit callback runs with the pair's internal lock held and must not
// call back into the pair.
type Outbound struct {
	pair

	clk  clock.Clock
	emit func(Group)

	// cur is the argument currently being assembled, 1..NumArgs,
	// monotonically non-decreasing.
	cur       int
	endedArgs [NumArgs + 1]bool

	// pending is the frame under assembly. Index 0 corresponds to the
	// value of cur when assembly of this frame began; it always holds at
	// least one (possibly empty) chunk so the last element tracks cur.
	pending [][]byte

	paused         bool
	finished       bool
	flushScheduled bool
	timer          *clock.Timer
}

// Option configures an Outbound.
type Option func(*Outbound)

// WithClock substitutes the clock used for deferred-flush scheduling.
// Tests use a mock clock to drive tick boundaries deterministically.
func WithClock(c clock.Clock) Option {
	return func(out *Outbound) { out.clk = c }
}

// NewOutbound creates the send side of one call body. Completed groups are
// handed to emit in wire order; the group carrying IsLast is the final one.
func NewOutbound(emit func(Group), opts ...Option) *Outbound {
	out := &Outbound{
		clk:     clock.New(),
		emit:    emit,
		cur:     1,
		pending: [][]byte{nil},
	}
	out.pair.init(out.handleChunkLocked)
	for _, opt := range opts {
		opt(out)
	}
	return out
}

// Pause suppresses all emission and cancels any scheduled flush. Writes
// keep accumulating into the pending frame; nothing is lost.
func (out *Outbound) Pause() {
	out.mu.Lock()
	defer out.mu.Unlock()
	out.paused = true
	out.cancelFlushLocked()
}

// Resume lifts backpressure and re-attempts the flush decision, emitting
// the buffered content, including the final group if the call finished
// while paused.
func (out *Outbound) Resume() {
	out.mu.Lock()
	defer out.mu.Unlock()
	if !out.paused {
		return
	}
	out.paused = false
	if out.err == nil && !out.finished {
		out.maybeFlushLocked()
	}
}

// Finished reports whether the final group has been emitted.
func (out *Outbound) Finished() bool {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.finished
}

// handleChunkLocked is the chunk sink for the three write-side slots.
// A nil chunk signals that argument n ended.
func (out *Outbound) handleChunkLocked(n int, chunk []byte) error {
	if out.finished {
		err := errAlreadyFinished("arg chunk received")
		out.failLocked(err)
		return err
	}

	switch {
	case n < out.cur:
		if chunk != nil {
			// Data for an argument already closed out and flushed.
			err := errChunkOutOfOrder(out.cur, n)
			out.failLocked(err)
			return err
		}
		// A late end signal is benign: the slot contributed all of its
		// data before the cursor moved past it.
		out.endedArgs[n] = true

	case n > out.cur:
		if chunk == nil {
			// Finished early or empty; accounted for once the cursor
			// reaches it.
			out.endedArgs[n] = true
		} else if out.endedArgs[n] {
			err := errAlreadyFinished("write to ended arg slot")
			out.failLocked(err)
			return err
		} else {
			for out.cur < n {
				out.cur++
				out.pending = append(out.pending, nil)
			}
			out.appendPendingLocked(chunk)
		}

	default:
		if chunk == nil {
			out.endedArgs[n] = true
		} else if out.endedArgs[n] {
			err := errAlreadyFinished("write to ended arg slot")
			out.failLocked(err)
			return err
		} else {
			out.appendPendingLocked(chunk)
		}
	}

	for out.cur < NumArgs && out.endedArgs[out.cur] {
		out.cur++
		out.pending = append(out.pending, nil)
	}

	out.maybeFlushLocked()
	return nil
}

// appendPendingLocked coalesces a chunk into the current frame slot.
// Same-tick writes to one argument merge into a single chunk.
func (out *Outbound) appendPendingLocked(chunk []byte) {
	last := len(out.pending) - 1
	out.pending[last] = append(out.pending[last], chunk...)
}

func (out *Outbound) maybeFlushLocked() {
	if out.allEndedLocked() {
		// The only path that marks a group IsLast.
		out.flushLocked(true)
		return
	}
	if out.pendingHasContentLocked() {
		out.scheduleFlushLocked()
	}
}

// flushLocked swaps the pending frame for a fresh one and emits the
// previous frame as a completed group. Suppressed entirely while paused.
func (out *Outbound) flushLocked(last bool) {
	if out.paused {
		return
	}
	out.cancelFlushLocked()

	group := Group{Chunks: out.pending, IsLast: last}
	out.pending = [][]byte{nil}
	if last {
		out.finished = true
	}

	out.emit(group)

	if last {
		out.closeDoneLocked()
	}
}

// scheduleFlushLocked arranges one flush on the next scheduler tick, so
// all writes occurring synchronously within the current tick batch into a
// single outgoing group. Idempotent against duplicate scheduling.
func (out *Outbound) scheduleFlushLocked() {
	if out.flushScheduled || out.paused {
		return
	}
	out.flushScheduled = true
	out.timer = out.clk.AfterFunc(0, out.deferredFlush)
}

func (out *Outbound) deferredFlush() {
	out.mu.Lock()
	defer out.mu.Unlock()

	out.flushScheduled = false
	out.timer = nil

	if out.paused || out.finished || out.err != nil {
		return
	}
	if out.pendingHasContentLocked() {
		out.flushLocked(false)
	}
}

func (out *Outbound) cancelFlushLocked() {
	if out.timer != nil {
		out.timer.Stop()
		out.timer = nil
	}
	out.flushScheduled = false
}

func (out *Outbound) allEndedLocked() bool {
	for n := 1; n <= NumArgs; n++ {
		if !out.endedArgs[n] {
			return false
		}
	}
	return true
}

// pendingHasContentLocked reports whether the pending frame holds anything
// beyond the initial empty placeholder.
func (out *Outbound) pendingHasContentLocked() bool {
	return len(out.pending) > 1 || len(out.pending[0]) > 0
}
