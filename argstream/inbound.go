package argstream

// Inbound demultiplexes incoming frame chunk-groups onto the three
// argument slots of one call body. Its input is already frame-ordered, so
// it reduces to a cursor walk: within a group, every position after the
// first necessarily starts the next argument.
//
// The transport pushes each group via HandleFrame and finally pushes the
// nil sentinel to close out the call (after the last frame on the normal
// path, or on connection-level termination mid-call).
type Inbound struct {
	pair

	// cursor is the argument currently being filled, 1..NumArgs. It is
	// monotonically non-decreasing; NumArgs+1 means exhausted.
	cursor     int
	endedCount int
	finished   bool
}

// NewInbound creates the receive side of one call body.
func NewInbound() *Inbound {
	in := &Inbound{cursor: 1}
	in.pair.init(nil)
	in.pair.onSlotEnd = in.slotEnded
	return in
}

// HandleFrame consumes one incoming frame chunk-group, in wire order.
//
// A nil group is the stream-reset sentinel: every not-yet-ended slot from
// the cursor forward is force-ended, in order, and the demux finishes. A
// group with zero chunks is a no-op. Zero-length chunks within a group
// mark argument boundaries without contributing bytes.
//
// Pushing a group after the demux finished is a contract violation and
// fails with ErrorAlreadyFinished; the sentinel itself stays idempotent,
// since teardown paths may signal it after a normal finish. A group
// claiming more argument boundaries than remain fails with
// ErrorArityExceeded. Either failure is terminal and also surfaced via
// Err.
func (in *Inbound) HandleFrame(chunks [][]byte) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.err != nil {
		return in.err
	}

	if chunks == nil {
		for k := in.cursor; k <= NumArgs; k++ {
			if err := in.slots[k-1].endLocked(); err != nil {
				return err
			}
		}
		in.cursor = NumArgs + 1
		return nil
	}

	if in.finished {
		err := errAlreadyFinished("frame pushed")
		in.failLocked(err)
		return err
	}

	for i, chunk := range chunks {
		if i > 0 {
			// A later position always starts the next argument.
			if err := in.slots[in.cursor-1].endLocked(); err != nil {
				return err
			}
			in.cursor++
		}
		if in.cursor > NumArgs {
			err := errArityExceeded()
			in.failLocked(err)
			return err
		}
		if len(chunk) > 0 {
			if err := in.slots[in.cursor-1].deliverLocked(chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

// Finished reports whether all three slots have ended.
func (in *Inbound) Finished() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.finished
}

// slotEnded counts end transitions; the third one completes the demux.
// Called with the pair mutex held.
func (in *Inbound) slotEnded(int) {
	in.endedCount++
	if in.endedCount == NumArgs {
		in.finished = true
		in.closeDoneLocked()
	}
}
