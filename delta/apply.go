package delta

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/nbsync/gosync/wire"
)

// applyBufferSize bounds the reused buffer ApplyDelta reads Copy ops
// through, so a single large Copy op never allocates proportional to its
// own length.
const applyBufferSize = 64 * 1024

// ApplyDelta reconstructs a file by applying a stream of delta ops against
// original (the destination's prior copy, opened read-only and held for
// the whole call) and writing the result to dst. Grounded directly on the
// teacher's gsync_server.go Apply, generalized so a Copy op's length isn't
// assumed to be one DefaultBlockSize chunk: it reads through a reused
// buffer in a loop, bounding memory to applyBufferSize regardless of how
// long the copy run is.
func ApplyDelta(ctx context.Context, dst io.Writer, original io.ReaderAt, ops <-chan wire.DeltaOp) error {
	buf := make([]byte, applyBufferSize)

	for op := range ops {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "delta: apply cancelled")
		default:
		}

		switch v := op.(type) {
		case wire.OpCopy:
			offset := int64(v.Offset)
			remaining := int64(v.Length)
			for remaining > 0 {
				chunk := buf
				if int64(len(chunk)) > remaining {
					chunk = chunk[:remaining]
				}
				n, err := original.ReadAt(chunk, offset)
				if n > 0 {
					if _, werr := dst.Write(chunk[:n]); werr != nil {
						return errors.Wrap(werr, "delta: writing copied block")
					}
					offset += int64(n)
					remaining -= int64(n)
				}
				if err != nil {
					if err == io.EOF && remaining <= 0 {
						break
					}
					return errors.Wrap(err, "delta: reading from original file")
				}
			}

		case wire.OpLiteral:
			if _, err := dst.Write(v.Bytes); err != nil {
				return errors.Wrap(err, "delta: writing literal block")
			}

		default:
			return errors.Errorf("delta: unknown op type %T", op)
		}
	}

	return nil
}
