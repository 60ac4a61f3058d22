package wire

import (
	"io"

	"github.com/pkg/errors"
)

// Message is any of the fixed protocol message types. Encoder/Decoder
// convert between this interface and the raw frames on the wire; callers
// that need a specific type do so with a type switch, same as they would
// decoding any tagged-union wire format.
type Message interface {
	messageType() byte
}

func (m Hello) messageType() byte         { return TypeHello }
func (m FileEntry) messageType() byte     { return TypeFileEntry }
func (m FileEnd) messageType() byte       { return TypeFileEnd }
func (m DestFileEntry) messageType() byte { return TypeDestFileEntry }
func (m DestFileEnd) messageType() byte   { return TypeDestFileEnd }
func (m Data) messageType() byte          { return TypeData }
func (m DataEnd) messageType() byte       { return TypeDataEnd }
func (m Delete) messageType() byte        { return TypeDelete }
func (m DeleteEnd) messageType() byte     { return TypeDeleteEnd }
func (m Mkdir) messageType() byte         { return TypeMkdir }
func (m Symlink) messageType() byte       { return TypeSymlink }
func (m Xattr) messageType() byte         { return TypeXattr }
func (m Error) messageType() byte         { return TypeError }
func (m Fatal) messageType() byte         { return TypeFatal }
func (m Done) messageType() byte          { return TypeDone }

// encodable is satisfied by every message struct's unexported encode
// method; kept separate from Message so the type switch in Encoder.Encode
// is the only place that needs to know the full set.
type encodable interface {
	encode(e *encBuf)
}

// Encoder writes messages to an underlying io.Writer, reusing one payload
// buffer across calls. Each Encode call issues one Write for one frame.
type Encoder struct {
	w   io.Writer
	buf encBuf
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one message as a single frame.
func (enc *Encoder) Encode(m Message) error {
	enc.buf.reset()
	switch v := m.(type) {
	case Hello:
		v.encode(&enc.buf)
	case FileEntry:
		v.encode(&enc.buf)
	case FileEnd:
		v.encode(&enc.buf)
	case DestFileEntry:
		v.encode(&enc.buf)
	case DestFileEnd:
		v.encode(&enc.buf)
	case Data:
		v.encode(&enc.buf)
	case DataEnd:
		v.encode(&enc.buf)
	case Delete:
		v.encode(&enc.buf)
	case DeleteEnd:
		v.encode(&enc.buf)
	case Mkdir:
		v.encode(&enc.buf)
	case Symlink:
		v.encode(&enc.buf)
	case Xattr:
		v.encode(&enc.buf)
	case Error:
		v.encode(&enc.buf)
	case Fatal:
		v.encode(&enc.buf)
	case Done:
		v.encode(&enc.buf)
	default:
		return errors.Errorf("wire: encode: unsupported message %T", m)
	}
	return WriteFrame(enc.w, m.messageType(), enc.buf.bytes())
}

// Decoder reads frames from an underlying io.Reader and decodes each into
// its concrete message type.
type Decoder struct {
	r io.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads and decodes the next frame. It returns io.EOF exactly when
// the underlying stream ended cleanly between frames.
func (dec *Decoder) Decode() (Message, error) {
	f, err := ReadFrame(dec.r)
	if err != nil {
		return nil, err
	}

	d := newDecBuf(f.Payload)
	var (
		m    Message
		derr error
	)

	switch f.Type {
	case TypeHello:
		m, derr = decodeHello(d)
	case TypeFileEntry:
		m, derr = decodeFileEntry(d)
	case TypeFileEnd:
		m, derr = decodeFileEnd(d)
	case TypeDestFileEntry:
		m, derr = decodeDestFileEntry(d)
	case TypeDestFileEnd:
		m, derr = decodeDestFileEnd(d)
	case TypeData:
		m, derr = decodeData(d)
	case TypeDataEnd:
		m, derr = decodeDataEnd(d)
	case TypeDelete:
		m, derr = decodeDelete(d)
	case TypeDeleteEnd:
		m, derr = decodeDeleteEnd(d)
	case TypeMkdir:
		m, derr = decodeMkdir(d)
	case TypeSymlink:
		m, derr = decodeSymlink(d)
	case TypeXattr:
		m, derr = decodeXattr(d)
	case TypeError:
		m, derr = decodeError(d)
	case TypeFatal:
		m, derr = decodeFatal(d)
	case TypeDone:
		m, derr = decodeDone(d)
	default:
		return nil, errors.Wrapf(ErrUnknownType, "type %d", f.Type)
	}

	if derr != nil {
		return nil, errors.Wrapf(derr, "wire: decoding message type %d", f.Type)
	}
	if !d.done() {
		return nil, errors.Errorf("wire: message type %d left %d trailing bytes", f.Type, len(d.remaining()))
	}
	return m, nil
}
