// Package wire implements the binary frame codec the pipeline speaks over a
// bidirectional byte stream: a length-prefixed, type-tagged frame format
// carrying the fixed set of protocol messages exchanged between generator,
// sender, and receiver.
//
// The frame layout and message set follow the same big-endian,
// length-prefixed discipline n-backup's internal/protocol package uses for
// its handshake/trailer frames, generalized here to one frame type instead
// of many magic-tagged ones, since every message here shares the same
// length+type header.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ProtocolVersion is the only version this codec speaks.
const ProtocolVersion uint16 = 2

// MaxFrameSize bounds a single frame's type+payload length. A header
// claiming more is a fatal protocol error.
const MaxFrameSize = 64 * 1024 * 1024

// DefaultBatchTarget is a soft target size, in bytes, for coalescing
// several small-message writes (notably DestFileEntry) into one flush.
// Nothing in this module reads it: Encoder writes each frame with its own
// Write call.
const DefaultBatchTarget = 64 * 1024

// Message type identifiers. Fixed numbers; never renumber a shipped value.
const (
	TypeHello byte = iota + 1
	TypeFileEntry
	TypeFileEnd
	TypeDestFileEntry
	TypeDestFileEnd
	TypeData
	TypeDataEnd
	TypeDelete
	TypeDeleteEnd
	TypeMkdir
	TypeSymlink
	TypeXattr
	TypeError
	TypeFatal
	TypeDone
)

// Errors surfaced by the codec. All of them are fatal per the protocol
// violation policy: the caller must abort the sync, not retry the frame.
var (
	ErrFrameTooLarge  = errors.New("wire: frame exceeds maximum size")
	ErrTruncatedFrame = errors.New("wire: truncated frame")
	ErrUnknownType    = errors.New("wire: unknown message type")
	ErrInvalidString  = errors.New("wire: invalid UTF-8 in string field")
	ErrInvalidLength  = errors.New("wire: negative or impossibly large length field")
)

// Frame is the raw, decoded envelope: a message type tag plus its encoded
// payload. Encoding/decoding of the payload into a concrete message struct
// happens one level up, in Encoder/Decoder.
type Frame struct {
	Type    byte
	Payload []byte
}

// WriteFrame writes the length-prefixed header followed by typ and payload
// in a single buffered write, so a concurrent reader never observes a torn
// header.
func WriteFrame(w io.Writer, typ byte, payload []byte) error {
	n := len(payload) + 1
	if n > MaxFrameSize {
		return errors.Wrapf(ErrFrameTooLarge, "frame of %d bytes", n)
	}

	header := make([]byte, 5, 5+len(payload)+1)
	binary.BigEndian.PutUint32(header, uint32(n))
	header = append(header, typ)
	header = append(header, payload...)

	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "wire: writing frame")
	}
	return nil
}

// ReadFrame reads one frame from r, enforcing MaxFrameSize before it ever
// allocates the payload buffer.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, errors.Wrap(ErrTruncatedFrame, err.Error())
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return Frame{}, errors.Wrap(ErrTruncatedFrame, "zero-length frame")
	}
	if n > MaxFrameSize {
		return Frame{}, errors.Wrapf(ErrFrameTooLarge, "frame declares %d bytes", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, errors.Wrap(ErrTruncatedFrame, err.Error())
	}

	return Frame{Type: body[0], Payload: body[1:]}, nil
}
