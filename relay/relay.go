// Package relay wires the argument-streaming layer end to end: it decodes
// wire frames from a byte stream, demultiplexes them onto the three
// argument slots of a call body, and replays the drained arguments through
// the outbound mux onto another byte stream.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cychenyin/tchannel/adapter"
	"github.com/cychenyin/tchannel/argstream"
	"github.com/cychenyin/tchannel/iox"
	"github.com/cychenyin/tchannel/log"
	"github.com/cychenyin/tchannel/metrics"
	"github.com/cychenyin/tchannel/types"
	"github.com/cychenyin/tchannel/wire"
)

// Call outcomes as published to adapters.
const (
	OutcomeCompleted     = "completed"
	OutcomeReset         = "reset"
	OutcomeStreamError   = "stream_error"
	OutcomeProtocolError = "protocol_error"
	OutcomeCanceled      = "canceled"
)

// ErrorKind classifies relay errors for outcome determination.
type ErrorKind int

const (
	// ErrorStream indicates a wire frame/stream error (peer crash or
	// truncated transport).
	ErrorStream ErrorKind = iota
	// ErrorProtocol indicates an argument-stream contract violation
	// (arity, ordering, post-finish push).
	ErrorProtocol
	// ErrorCanceled indicates context cancellation.
	ErrorCanceled
)

// Error classifies a relay failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsStreamError returns true if the error is a wire stream error.
func IsStreamError(err error) bool {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr.Kind == ErrorStream
	}
	return false
}

// IsProtocolError returns true if the error is a protocol violation.
func IsProtocolError(err error) bool {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr.Kind == ErrorProtocol
	}
	return false
}

// IsCanceledError returns true if the error is due to context cancellation.
func IsCanceledError(err error) bool {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr.Kind == ErrorCanceled
	}
	return false
}

// Relay moves one call body from an inbound byte stream to an outbound
// one. Frames are consumed in order; the call's three arguments are fully
// reassembled, then replayed through the outbound mux so the emitted
// frames are minimal and correctly ordered regardless of how the inbound
// side fragmented them.
type Relay struct {
	decoder   *wire.Decoder
	encoder   *wire.Encoder
	logger    *log.Logger
	meta      *types.CallMeta
	collector *metrics.Collector
	publisher adapter.Adapter // optional

	encodeErr error // first encode failure observed by the emit callback
}

// New creates a relay between the given byte streams.
// The publisher may be nil; completion events are then not published.
func New(
	r io.Reader,
	w io.Writer,
	logger *log.Logger,
	meta *types.CallMeta,
	collector *metrics.Collector,
	publisher adapter.Adapter,
) *Relay {
	return &Relay{
		decoder:   wire.NewDecoder(r),
		encoder:   wire.NewEncoder(w),
		logger:    logger,
		meta:      meta,
		collector: collector,
		publisher: publisher,
	}
}

// Run relays a single call body. Returns:
//   - nil: the call was relayed to completion, or the inbound stream was
//     idle (EOF before any frame), or the call was reset by the peer and
//     the reset was forwarded
//   - *Error with Kind=ErrorStream: wire frame/stream error
//   - *Error with Kind=ErrorProtocol: argument-stream contract violation
//   - *Error with Kind=ErrorCanceled: context canceled
func (r *Relay) Run(ctx context.Context) error {
	started := time.Now()
	r.collector.IncCallStarted()

	in := argstream.NewInbound()
	framesSeen := false
	reset := false

ingest:
	for {
		select {
		case <-ctx.Done():
			return r.fail(started, OutcomeCanceled, &Error{Kind: ErrorCanceled, Err: ctx.Err()})
		default:
		}

		payload, err := r.decoder.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !framesSeen {
					// Idle close before any call arrived.
					return nil
				}
				// EOF mid-call: the peer died between frames.
				r.logger.Error("stream ended mid-call", map[string]any{
					"error": err.Error(),
				})
				return r.fail(started, OutcomeStreamError, &Error{
					Kind: ErrorStream,
					Err:  fmt.Errorf("stream ended mid-call: %w", err),
				})
			}
			r.logger.Error("frame error", map[string]any{
				"error": err.Error(),
			})
			return r.fail(started, OutcomeStreamError, &Error{
				Kind: ErrorStream,
				Err:  fmt.Errorf("frame error: %w", err),
			})
		}
		framesSeen = true

		decoded, err := wire.DecodeFrame(payload)
		if err != nil {
			r.collector.IncDecodeErrors()
			r.logger.Error("frame decode error", map[string]any{
				"error": err.Error(),
			})
			return r.fail(started, OutcomeStreamError, &Error{
				Kind: ErrorStream,
				Err:  fmt.Errorf("frame decode error: %w", err),
			})
		}

		switch frame := decoded.(type) {
		case *wire.GroupFrame:
			r.collector.IncFramesIn()
			if err := in.HandleFrame(frame.Chunks); err != nil {
				r.collector.IncProtocolErrors()
				return r.fail(started, OutcomeProtocolError, &Error{
					Kind: ErrorProtocol,
					Err:  fmt.Errorf("inbound demux: %w", err),
				})
			}
			if frame.IsLast {
				// The final group closes out every remaining argument.
				if err := in.HandleFrame(nil); err != nil {
					r.collector.IncProtocolErrors()
					return r.fail(started, OutcomeProtocolError, &Error{
						Kind: ErrorProtocol,
						Err:  fmt.Errorf("inbound finalize: %w", err),
					})
				}
				break ingest
			}
		case *wire.ResetFrame:
			reset = true
			if err := in.HandleFrame(nil); err != nil {
				r.collector.IncProtocolErrors()
				return r.fail(started, OutcomeProtocolError, &Error{
					Kind: ErrorProtocol,
					Err:  fmt.Errorf("inbound reset: %w", err),
				})
			}
			break ingest
		default:
			return r.fail(started, OutcomeStreamError, &Error{
				Kind: ErrorStream,
				Err:  fmt.Errorf("unexpected frame type: %T", decoded),
			})
		}
	}

	if reset {
		// The peer abandoned the call mid-body. Forward the reset and do
		// not replay partial arguments.
		r.logger.Warn("call reset by peer", nil)
		if err := r.encoder.WriteReset(); err != nil {
			return r.fail(started, OutcomeStreamError, &Error{
				Kind: ErrorStream,
				Err:  fmt.Errorf("forward reset: %w", err),
			})
		}
		r.collector.IncFramesOut()
		r.collector.IncCallFailed()
		r.publish(started, OutcomeReset)
		return nil
	}

	args, err := r.drainArgs(ctx, in)
	if err != nil {
		return r.fail(started, OutcomeProtocolError, err)
	}

	if err := r.replayArgs(args); err != nil {
		outcome := OutcomeStreamError
		if IsProtocolError(err) {
			outcome = OutcomeProtocolError
		}
		return r.fail(started, outcome, err)
	}

	r.collector.IncCallCompleted()
	r.logger.Info("call relayed", map[string]any{
		"arg1_bytes":  len(args[0]),
		"arg2_bytes":  len(args[1]),
		"arg3_bytes":  len(args[2]),
		"duration_ms": time.Since(started).Milliseconds(),
	})
	r.publish(started, OutcomeCompleted)
	return nil
}

// drainArgs collects the three fully reassembled arguments.
func (r *Relay) drainArgs(ctx context.Context, in *argstream.Inbound) ([argstream.NumArgs][]byte, error) {
	var args [argstream.NumArgs][]byte
	for n := 1; n <= argstream.NumArgs; n++ {
		buf, err := in.Arg(n).Drain(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return args, &Error{Kind: ErrorCanceled, Err: err}
			}
			return args, &Error{Kind: ErrorProtocol, Err: fmt.Errorf("drain arg%d: %w", n, err)}
		}
		args[n-1] = buf
		r.collector.AddArgBytesIn(n, int64(len(buf)))
	}
	return args, nil
}

// replayArgs pushes the arguments through the outbound mux; every group
// the mux emits goes straight to the wire encoder.
func (r *Relay) replayArgs(args [argstream.NumArgs][]byte) error {
	out := argstream.NewOutbound(func(group argstream.Group) {
		if r.encodeErr != nil {
			return
		}
		if err := r.encoder.WriteGroup(group.Chunks, group.IsLast); err != nil {
			r.encodeErr = err
			return
		}
		r.collector.IncFramesOut()
	})

	for n := 1; n <= argstream.NumArgs; n++ {
		slot := out.Arg(n)
		if len(args[n-1]) > 0 {
			if _, err := slot.Write(args[n-1]); err != nil {
				return &Error{Kind: ErrorProtocol, Err: fmt.Errorf("write arg%d: %w", n, err)}
			}
		}
		if err := slot.End(); err != nil {
			return &Error{Kind: ErrorProtocol, Err: fmt.Errorf("end arg%d: %w", n, err)}
		}
		r.collector.AddArgBytesOut(n, int64(len(args[n-1])))
	}

	if r.encodeErr != nil {
		return &Error{Kind: ErrorStream, Err: fmt.Errorf("encode frame: %w", r.encodeErr)}
	}
	if !out.Finished() {
		return &Error{Kind: ErrorProtocol, Err: errors.New("outbound mux did not finish")}
	}
	return nil
}

// fail records the failed call and publishes its outcome before returning
// the classified error. A reset frame tells the downstream side the call
// will not complete; the write is best effort since the output stream may
// itself be the casualty.
func (r *Relay) fail(started time.Time, outcome string, err error) error {
	iox.DiscardErr(r.encoder.WriteReset)
	r.collector.IncCallFailed()
	r.publish(started, outcome)
	return err
}

// publish sends the call completion event, if a publisher is configured.
// Publish failures are logged, never fatal: the call itself already ran.
func (r *Relay) publish(started time.Time, outcome string) {
	if r.publisher == nil {
		return
	}

	snap := r.collector.Snapshot()
	event := &adapter.CallCompletedEvent{
		Version:    types.Version,
		EventType:  "call_completed",
		CallID:     r.meta.CallID,
		Service:    r.meta.Service,
		Transport:  r.meta.Transport,
		Outcome:    outcome,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		FramesIn:   snap.FramesIn,
		FramesOut:  snap.FramesOut,
		Arg1Bytes:  snap.ArgBytesIn[1],
		Arg2Bytes:  snap.ArgBytesIn[2],
		Arg3Bytes:  snap.ArgBytesIn[3],
		DurationMs: time.Since(started).Milliseconds(),
	}

	publishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.publisher.Publish(publishCtx, event); err != nil {
		r.logger.Warn("publish call completion failed", map[string]any{
			"outcome": outcome,
			"error":   err.Error(),
		})
	}
}
