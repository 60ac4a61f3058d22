package delta

import (
	"io"

	"github.com/pkg/errors"

	"github.com/nbsync/gosync/checksum"
	"github.com/nbsync/gosync/wire"
)

// GenerateChecksums reads r in blockSize chunks and returns the weak+strong
// checksum of each block (the last block may be short and is included with
// its actual length implied by its position). This is the receiver-side
// half of the delta codec, directly grounded on the teacher's
// gsync_server.go Signatures function, generalized from a fixed
// DefaultBlockSize to the caller-supplied, per-file block size the spec
// requires.
//
// Unlike Signatures, this runs synchronously and returns a slice rather
// than a channel: the concurrency the initial-exchange phase needs is
// across files (a bounded worker pool, one file per job), not within a
// single file's block loop.
func GenerateChecksums(r io.Reader, blockSize uint32) ([]wire.WireBlockChecksum, error) {
	if r == nil {
		return nil, errors.New("delta: reader required")
	}
	if blockSize == 0 {
		return nil, errors.New("delta: block size must be positive")
	}

	var out []wire.WireBlockChecksum
	buf := make([]byte, blockSize)
	var offset uint64

	for {
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, errors.Wrap(err, "delta: reading block")
		}
		if n == 0 {
			break
		}

		block := buf[:n]
		out = append(out, wire.WireBlockChecksum{
			Offset: offset,
			Weak:   checksum.NewWeak(block).Sum(),
			Strong: checksum.StrongSum(block),
		})
		offset += uint64(n)

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
	}

	return out, nil
}
