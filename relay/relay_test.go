package relay

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/cychenyin/tchannel/adapter"
	"github.com/cychenyin/tchannel/argstream"
	"github.com/cychenyin/tchannel/log"
	"github.com/cychenyin/tchannel/metrics"
	"github.com/cychenyin/tchannel/types"
	"github.com/cychenyin/tchannel/wire"
)

// capturePublisher records published events for assertions.
type capturePublisher struct {
	events []*adapter.CallCompletedEvent
}

func (p *capturePublisher) Publish(_ context.Context, event *adapter.CallCompletedEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func testMeta() *types.CallMeta {
	return &types.CallMeta{CallID: "call-test", Service: "echo", Transport: "pipe"}
}

func newTestRelay(t *testing.T, input []byte, publisher adapter.Adapter) (*Relay, *bytes.Buffer, *metrics.Collector) {
	t.Helper()
	output := &bytes.Buffer{}
	logger := log.NewLogger(testMeta()).WithOutput(io.Discard)
	collector := metrics.NewCollector("pipe", "")
	r := New(bytes.NewReader(input), output, logger, testMeta(), collector, publisher)
	return r, output, collector
}

// buildInput encodes the given groups into a wire byte stream.
func buildInput(t *testing.T, groups []wire.GroupFrame) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := wire.NewEncoder(&buf)
	for _, g := range groups {
		if err := enc.WriteGroup(g.Chunks, g.IsLast); err != nil {
			t.Fatalf("WriteGroup failed: %v", err)
		}
	}
	return buf.Bytes()
}

// decodeOutput reassembles the relay's emitted frames back into the three
// arguments, so assertions hold regardless of how the mux fragmented them.
func decodeOutput(t *testing.T, output *bytes.Buffer) [argstream.NumArgs][]byte {
	t.Helper()
	in := argstream.NewInbound()
	dec := wire.NewDecoder(output)
	for {
		payload, err := dec.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		decoded, err := wire.DecodeFrame(payload)
		if err != nil {
			t.Fatalf("DecodeFrame failed: %v", err)
		}
		frame, ok := decoded.(*wire.GroupFrame)
		if !ok {
			t.Fatalf("expected *wire.GroupFrame, got %T", decoded)
		}
		if err := in.HandleFrame(frame.Chunks); err != nil {
			t.Fatalf("HandleFrame failed: %v", err)
		}
		if frame.IsLast {
			if err := in.HandleFrame(nil); err != nil {
				t.Fatalf("final sentinel failed: %v", err)
			}
		}
	}
	if !in.Finished() {
		t.Fatal("relay output did not carry a final group")
	}

	var args [argstream.NumArgs][]byte
	for n := 1; n <= argstream.NumArgs; n++ {
		buf, err := in.Arg(n).Drain(context.Background())
		if err != nil {
			t.Fatalf("Drain arg%d failed: %v", n, err)
		}
		args[n-1] = buf
	}
	return args
}

func TestRelay_SingleFrameCall(t *testing.T) {
	input := buildInput(t, []wire.GroupFrame{
		{Chunks: [][]byte{[]byte("h"), []byte("ey"), {}}, IsLast: true},
	})
	r, output, collector := newTestRelay(t, input, nil)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	args := decodeOutput(t, output)
	want := [argstream.NumArgs]string{"h", "ey", ""}
	for n := 1; n <= argstream.NumArgs; n++ {
		if string(args[n-1]) != want[n-1] {
			t.Errorf("arg%d = %q, want %q", n, args[n-1], want[n-1])
		}
	}

	snap := collector.Snapshot()
	if snap.CallsStarted != 1 || snap.CallsCompleted != 1 || snap.CallsFailed != 0 {
		t.Errorf("calls started/completed/failed = %d/%d/%d, want 1/1/0",
			snap.CallsStarted, snap.CallsCompleted, snap.CallsFailed)
	}
	if snap.FramesIn != 1 {
		t.Errorf("FramesIn = %d, want 1", snap.FramesIn)
	}
	if snap.ArgBytesIn[1] != 1 || snap.ArgBytesIn[2] != 2 || snap.ArgBytesIn[3] != 0 {
		t.Errorf("ArgBytesIn = %v", snap.ArgBytesIn)
	}
}

func TestRelay_FragmentedCall(t *testing.T) {
	// arg1 split across two frames; the third frame closes arg1, carries
	// all of arg2, and opens arg3.
	input := buildInput(t, []wire.GroupFrame{
		{Chunks: [][]byte{[]byte("he")}},
		{Chunks: [][]byte{[]byte("llo")}},
		{Chunks: [][]byte{{}, []byte("world"), []byte("!")}, IsLast: true},
	})
	r, output, collector := newTestRelay(t, input, nil)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	args := decodeOutput(t, output)
	want := [argstream.NumArgs]string{"hello", "world", "!"}
	for n := 1; n <= argstream.NumArgs; n++ {
		if string(args[n-1]) != want[n-1] {
			t.Errorf("arg%d = %q, want %q", n, args[n-1], want[n-1])
		}
	}

	snap := collector.Snapshot()
	if snap.FramesIn != 3 {
		t.Errorf("FramesIn = %d, want 3", snap.FramesIn)
	}
	if snap.ArgBytesIn[1] != 5 || snap.ArgBytesIn[2] != 5 || snap.ArgBytesIn[3] != 1 {
		t.Errorf("ArgBytesIn = %v", snap.ArgBytesIn)
	}
}

func TestRelay_ForwardsReset(t *testing.T) {
	var buf bytes.Buffer
	enc := wire.NewEncoder(&buf)
	if err := enc.WriteGroup([][]byte{[]byte("par")}, false); err != nil {
		t.Fatalf("WriteGroup failed: %v", err)
	}
	if err := enc.WriteReset(); err != nil {
		t.Fatalf("WriteReset failed: %v", err)
	}

	publisher := &capturePublisher{}
	r, output, collector := newTestRelay(t, buf.Bytes(), publisher)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	payload, err := wire.NewDecoder(output).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	decoded, err := wire.DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if _, ok := decoded.(*wire.ResetFrame); !ok {
		t.Fatalf("expected forwarded *wire.ResetFrame, got %T", decoded)
	}

	if snap := collector.Snapshot(); snap.CallsFailed != 1 {
		t.Errorf("CallsFailed = %d, want 1", snap.CallsFailed)
	}
	if len(publisher.events) != 1 || publisher.events[0].Outcome != OutcomeReset {
		t.Errorf("published events = %+v, want one reset outcome", publisher.events)
	}
}

func TestRelay_IdleInput(t *testing.T) {
	r, output, collector := newTestRelay(t, nil, nil)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run on idle input failed: %v", err)
	}
	if output.Len() != 0 {
		t.Errorf("idle relay wrote %d bytes", output.Len())
	}
	if snap := collector.Snapshot(); snap.CallsFailed != 0 || snap.CallsCompleted != 0 {
		t.Errorf("idle relay recorded outcomes: %+v", snap)
	}
}

func TestRelay_EOFMidCall(t *testing.T) {
	input := buildInput(t, []wire.GroupFrame{
		{Chunks: [][]byte{[]byte("partial")}},
	})
	r, _, collector := newTestRelay(t, input, nil)

	err := r.Run(context.Background())
	if !IsStreamError(err) {
		t.Fatalf("got %v, want a stream error", err)
	}
	if snap := collector.Snapshot(); snap.CallsFailed != 1 {
		t.Errorf("CallsFailed = %d, want 1", snap.CallsFailed)
	}
}

func TestRelay_FailureSignalsReset(t *testing.T) {
	input := buildInput(t, []wire.GroupFrame{
		{Chunks: [][]byte{[]byte("partial")}},
	})
	r, output, _ := newTestRelay(t, input, nil)

	err := r.Run(context.Background())
	if !IsStreamError(err) {
		t.Fatalf("got %v, want a stream error", err)
	}

	// A failed call still tells the downstream side it will never see a
	// final group.
	payload, err := wire.NewDecoder(output).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	decoded, err := wire.DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if _, ok := decoded.(*wire.ResetFrame); !ok {
		t.Fatalf("expected *wire.ResetFrame, got %T", decoded)
	}
}

func TestRelay_TruncatedFrame(t *testing.T) {
	input := buildInput(t, []wire.GroupFrame{
		{Chunks: [][]byte{[]byte("cut")}, IsLast: true},
	})
	r, _, _ := newTestRelay(t, input[:len(input)-2], nil)

	err := r.Run(context.Background())
	if !IsStreamError(err) {
		t.Fatalf("got %v, want a stream error", err)
	}
}

func TestRelay_UndecodablePayload(t *testing.T) {
	// Valid length prefix, garbage body.
	input := []byte{0x00, 0x00, 0x00, 0x03, 0xc1, 0xc1, 0xc1}
	r, _, collector := newTestRelay(t, input, nil)

	err := r.Run(context.Background())
	if !IsStreamError(err) {
		t.Fatalf("got %v, want a stream error", err)
	}
	if snap := collector.Snapshot(); snap.DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d, want 1", snap.DecodeErrors)
	}
}

func TestRelay_ArityViolation(t *testing.T) {
	input := buildInput(t, []wire.GroupFrame{
		{Chunks: [][]byte{[]byte("a"), []byte("b"), []byte("c")}},
		{Chunks: [][]byte{[]byte("spills"), []byte("over")}, IsLast: true},
	})
	r, _, collector := newTestRelay(t, input, nil)

	err := r.Run(context.Background())
	if !IsProtocolError(err) {
		t.Fatalf("got %v, want a protocol error", err)
	}
	if snap := collector.Snapshot(); snap.ProtocolErrors != 1 {
		t.Errorf("ProtocolErrors = %d, want 1", snap.ProtocolErrors)
	}
}

func TestRelay_CanceledContext(t *testing.T) {
	input := buildInput(t, []wire.GroupFrame{
		{Chunks: [][]byte{[]byte("never read")}, IsLast: true},
	})
	r, _, _ := newTestRelay(t, input, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx)
	if !IsCanceledError(err) {
		t.Fatalf("got %v, want a canceled error", err)
	}
}

func TestRelay_PublishesCompletion(t *testing.T) {
	input := buildInput(t, []wire.GroupFrame{
		{Chunks: [][]byte{[]byte("m"), []byte("hh"), []byte("body")}, IsLast: true},
	})
	publisher := &capturePublisher{}
	r, _, _ := newTestRelay(t, input, publisher)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("published %d events, want 1", len(publisher.events))
	}
	event := publisher.events[0]
	if event.Outcome != OutcomeCompleted {
		t.Errorf("Outcome = %q, want %q", event.Outcome, OutcomeCompleted)
	}
	if event.CallID != "call-test" || event.Service != "echo" {
		t.Errorf("event identity = %q/%q, want call-test/echo", event.CallID, event.Service)
	}
	if event.Arg1Bytes != 1 || event.Arg2Bytes != 2 || event.Arg3Bytes != 4 {
		t.Errorf("arg bytes = %d/%d/%d, want 1/2/4",
			event.Arg1Bytes, event.Arg2Bytes, event.Arg3Bytes)
	}
}
