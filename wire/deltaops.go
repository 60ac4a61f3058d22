package wire

import "github.com/pkg/errors"

// Delta op tags, serialized inside a Data frame's payload when
// DataFlagDelta is set: 0x00|offset:u64|length:u32 for Copy,
// 0x01|length:u32|bytes for Literal.
const (
	opCopy    byte = 0x00
	opLiteral byte = 0x01
)

// maxCopyLength bounds a single Copy op so the length field never needs to
// address more than 4 GiB in one entry; longer runs are split by the
// delta engine before encoding.
const maxCopyLength = 1<<32 - 1

// OpCopy instructs the receiver to copy length bytes from the destination's
// prior file at the given offset.
type OpCopy struct {
	Offset uint64
	Length uint32
}

// OpLiteral instructs the receiver to take these bytes verbatim.
type OpLiteral struct {
	Bytes []byte
}

// DeltaOp is either an OpCopy or an OpLiteral.
type DeltaOp interface {
	isDeltaOp()
}

func (OpCopy) isDeltaOp()    {}
func (OpLiteral) isDeltaOp() {}

// EncodeDeltaOps serializes a delta op list into the byte form carried as a
// Data frame's payload. Called once per outgoing Data(delta=1) frame; the
// sender splits the op list across frames before calling this, not after,
// so each frame's payload is self-contained.
func EncodeDeltaOps(ops []DeltaOp) ([]byte, error) {
	e := encBuf{}
	for _, op := range ops {
		switch v := op.(type) {
		case OpCopy:
			if v.Length > maxCopyLength {
				return nil, errors.Errorf("wire: copy op length %d exceeds maximum", v.Length)
			}
			e.u8(opCopy)
			e.u64(v.Offset)
			e.u32(v.Length)
		case OpLiteral:
			e.u8(opLiteral)
			e.u32(uint32(len(v.Bytes)))
			e.b = append(e.b, v.Bytes...)
		default:
			return nil, errors.Errorf("wire: unknown delta op %T", op)
		}
	}
	return e.bytes(), nil
}

// DecodeDeltaOps parses a Data(delta=1) payload back into its op list.
func DecodeDeltaOps(payload []byte) ([]DeltaOp, error) {
	d := newDecBuf(payload)
	var ops []DeltaOp
	for !d.done() {
		tag, err := d.u8()
		if err != nil {
			return nil, err
		}
		switch tag {
		case opCopy:
			offset, err := d.u64()
			if err != nil {
				return nil, err
			}
			length, err := d.u32()
			if err != nil {
				return nil, err
			}
			ops = append(ops, OpCopy{Offset: offset, Length: length})
		case opLiteral:
			length, err := d.u32()
			if err != nil {
				return nil, err
			}
			if err := d.need(int(length)); err != nil {
				return nil, err
			}
			lit := make([]byte, length)
			copy(lit, d.remaining()[:length])
			d.pos += int(length)
			ops = append(ops, OpLiteral{Bytes: lit})
		default:
			return nil, errors.Errorf("wire: unknown delta op tag 0x%02x", tag)
		}
	}
	return ops, nil
}
