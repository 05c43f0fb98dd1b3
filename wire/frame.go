// Package wire implements the frame codec that carries argument
// chunk-groups over a byte stream: 4-byte big-endian length prefix, then a
// msgpack-encoded frame body discriminated by its type field.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// MaxChunks is the maximum number of chunks one group may carry: one
	// per argument slot of a call body.
	MaxChunks = 3
)

// GroupFrameType is the type discriminant for argument chunk-group frames.
const GroupFrameType = "arg_group"

// ResetFrameType is the type discriminant for stream reset frames, sent
// when a call terminates without a final group (connection death mid-call).
const ResetFrameType = "stream_reset"

// GroupFrame is the wire shape of one argument chunk-group.
type GroupFrame struct {
	Type   string   `msgpack:"type"`
	Chunks [][]byte `msgpack:"chunks"`
	IsLast bool     `msgpack:"is_last"`
}

// ResetFrame is the wire shape of a stream reset.
type ResetFrame struct {
	Type string `msgpack:"type"`
}

// FrameErrorKind classifies frame codec errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error or an invalid
	// frame body (unknown type, too many chunks).
	FrameErrorDecode
)

// FrameError represents a frame codec error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if this error is fatal for the byte stream.
// Partial and oversized frames leave the stream unsynchronized; there is
// no resync, so the connection must be torn down.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// Decoder decodes length-prefixed msgpack frames from a stream.
type Decoder struct {
	reader io.Reader
}

// NewDecoder creates a new frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// ReadFrame reads a single frame from the stream and returns the raw
// payload bytes (msgpack-encoded).
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *Decoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])

	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	_, err = io.ReadFull(d.reader, payload)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// frameTypeProbe is used to peek at the type field without full decode.
type frameTypeProbe struct {
	Type string `msgpack:"type"`
}

// DecodeFrame decodes a payload and returns either a *GroupFrame or a
// *ResetFrame, discriminating on the type field.
func DecodeFrame(payload []byte) (any, error) {
	var probe frameTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode frame type",
			Err:  err,
		}
	}

	switch probe.Type {
	case GroupFrameType:
		return DecodeGroupFrame(payload)
	case ResetFrameType:
		return &ResetFrame{Type: ResetFrameType}, nil
	default:
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("unknown frame type %q", probe.Type),
		}
	}
}

// DecodeGroupFrame decodes a payload as a GroupFrame and validates its
// shape against the three-slot call body.
func DecodeGroupFrame(payload []byte) (*GroupFrame, error) {
	var frame GroupFrame
	if err := msgpack.Unmarshal(payload, &frame); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode arg group",
			Err:  err,
		}
	}
	if len(frame.Chunks) > MaxChunks {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("arg group carries %d chunks, maximum is %d", len(frame.Chunks), MaxChunks),
		}
	}
	return &frame, nil
}

// Encoder writes length-prefixed msgpack frames to a stream.
type Encoder struct {
	writer io.Writer
}

// NewEncoder creates a new frame encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// WriteGroup encodes and writes one argument chunk-group frame.
func (e *Encoder) WriteGroup(chunks [][]byte, isLast bool) error {
	if len(chunks) > MaxChunks {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("arg group carries %d chunks, maximum is %d", len(chunks), MaxChunks),
		}
	}
	return e.writePayload(&GroupFrame{
		Type:   GroupFrameType,
		Chunks: chunks,
		IsLast: isLast,
	})
}

// WriteReset encodes and writes a stream reset frame.
func (e *Encoder) WriteReset() error {
	return e.writePayload(&ResetFrame{Type: ResetFrameType})
}

func (e *Encoder) writePayload(body any) error {
	payload, err := msgpack.Marshal(body)
	if err != nil {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to encode frame",
			Err:  err,
		}
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)

	if _, err := e.writer.Write(buf); err != nil {
		return &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to write frame",
			Err:  err,
		}
	}
	return nil
}
