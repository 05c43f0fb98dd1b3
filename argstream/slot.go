package argstream

import "context"

// chunkSink receives chunks forwarded from a write-side slot. A nil chunk
// signals end-of-argument. Called with the pair mutex held.
type chunkSink func(n int, chunk []byte) error

// Slot is a single positional byte-stream endpoint, one of three per call
// body. It is duplex: exactly one producer writes it and exactly one
// consumer reads it for its lifetime.
//
// On the inbound side the producer is the demux and the consumer is the
// application, which reads via Drain. On the outbound side the producer is
// the application and the consumer is the mux, which observes writes
// through its chunk sink; outbound slots are not drainable.
type Slot struct {
	p       *pair
	n       int // 1-based argument index
	forward chunkSink

	parts    [][]byte
	size     int
	started  bool
	ended    bool
	drained  bool
	err      error
	done     chan struct{}
	doneOnce bool
}

func newSlot(p *pair, n int, forward chunkSink) *Slot {
	return &Slot{
		p:       p,
		n:       n,
		forward: forward,
		done:    make(chan struct{}),
	}
}

// Write appends bytes to the argument. The first call fires the started
// transition, which force-ends every earlier argument not yet ended (the
// sequential boundary rule). The chunk is copied; the caller may reuse b.
func (s *Slot) Write(b []byte) (int, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	if s.p.err != nil {
		return 0, s.p.err
	}
	if s.err != nil {
		return 0, errSlotFailed(s.n, s.err)
	}
	chunk := make([]byte, len(b))
	copy(chunk, b)

	if s.ended {
		if s.forward != nil {
			// The mux classifies the violation: data behind the assembly
			// cursor is out of order, data for an explicitly ended
			// argument is a double write.
			return 0, s.forward(s.n, chunk)
		}
		err := errAlreadyFinished("write to ended arg slot")
		s.p.failLocked(err)
		return 0, err
	}

	if err := s.deliverLocked(chunk); err != nil {
		return 0, err
	}
	return len(b), nil
}

// deliverLocked runs the started transition and hands the chunk to the
// slot's consumer. Used by Write and by the inbound demux.
func (s *Slot) deliverLocked(chunk []byte) error {
	if !s.started {
		s.started = true
		if err := s.p.startArgLocked(s.n); err != nil {
			return err
		}
	}

	if s.forward != nil {
		return s.forward(s.n, chunk)
	}

	if len(chunk) > 0 {
		s.parts = append(s.parts, chunk)
		s.size += len(chunk)
	}
	return nil
}

// End marks the argument complete. Repeated calls are no-ops.
func (s *Slot) End() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return s.endLocked()
}

func (s *Slot) endLocked() error {
	if s.ended {
		return nil
	}
	s.ended = true

	if s.forward != nil {
		return s.forward(s.n, nil)
	}

	s.closeDoneLocked()
	if s.p.onSlotEnd != nil {
		s.p.onSlotEnd(s.n)
	}
	return nil
}

// Fail records a slot-level failure (e.g. the underlying byte stream died
// mid-argument). The failure is surfaced on the pair's error channel and
// any pending Drain is released with the error.
func (s *Slot) Fail(err error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	if s.err == nil {
		s.err = err
	}
	s.closeDoneLocked()
	s.p.failLocked(errSlotFailed(s.n, err))
}

// Started reports whether the slot has received its first write.
func (s *Slot) Started() bool {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return s.started
}

// Ended reports whether the producer has signaled no-more-data.
func (s *Slot) Ended() bool {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return s.ended
}

// Drain waits until the slot ends (or fails, or the pair fails) and
// returns the full concatenation of everything written to it. An argument
// ended with zero bytes drains as an empty, non-nil buffer.
//
// A slot may be drained at most once, and draining is not restartable.
func (s *Slot) Drain(ctx context.Context) ([]byte, error) {
	s.p.mu.Lock()
	if s.forward != nil {
		s.p.mu.Unlock()
		return nil, ErrNotReadable
	}
	if s.drained {
		s.p.mu.Unlock()
		return nil, ErrAlreadyDrained
	}
	s.drained = true
	s.p.mu.Unlock()

	select {
	case <-s.done:
	case <-s.p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.p.mu.Lock()
	defer s.p.mu.Unlock()

	if s.err != nil {
		return nil, errSlotFailed(s.n, s.err)
	}
	if !s.ended && s.p.err != nil {
		return nil, s.p.err
	}

	buf := make([]byte, 0, s.size)
	for _, part := range s.parts {
		buf = append(buf, part...)
	}
	return buf, nil
}

func (s *Slot) closeDoneLocked() {
	if !s.doneOnce {
		s.doneOnce = true
		close(s.done)
	}
}
