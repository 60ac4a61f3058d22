package legacy

import (
	"context"
	"io"

	"github.com/golang/glog"
	"github.com/huichen/murmur"
	"github.com/pkg/errors"
)

// SyncLegacy sends file deltas or literals to the caller in order to
// efficiently reconstruct a remote file, using the request/response block
// checksums this legacy protocol exchanges up front (as opposed to the
// streaming module's rolling-window diff). The caller must close c after
// sending all the block checksums, or this function deadlocks. Once done
// sending all the block operations, the returned channel is closed to
// signal the end of transmission.
func SyncLegacy(ctx context.Context, r io.Reader, c <-chan LegacyBlockChecksum) chan<- LegacyBlockOperation {
	// Build lookup table using remote signatures.
	table := make(map[uint32][]LegacyBlockChecksum)
	for sum := range c {
		if sum.Error != nil {
			// Keep reading and log a warning; worst case the involved data
			// block gets re-sent.
			glog.Warningf("legacy: block checksum error: %+v", sum.Error)
		}

		table[sum.Weak] = append(table[sum.Weak], sum)
	}

	var index uint64
	buffer := make([]byte, 0, DefaultBlockSize)
	out := make(chan<- LegacyBlockOperation)

	go func() {
		defer close(out)
		// Read the file, check for content matches against remote blocks,
		// and send a literal or a copy-reference operation.
		for {
			select {
			case <-ctx.Done():
				out <- LegacyBlockOperation{Error: ctx.Err()}
				return
			default:
			}

			n, err := r.Read(buffer)
			if err == io.EOF {
				break
			}
			if err != nil {
				out <- LegacyBlockOperation{Error: errors.Wrap(err, "legacy: reading file")}
				// Return since data corruption on the server might be
				// possible.
				return
			}

			block := buffer[:n]
			weak := rollingChecksum(block)

			op := LegacyBlockOperation{Index: index}
			if matches, ok := table[weak]; ok {
				for _, m := range matches {
					if murmur.Murmur3(block) == m.Strong {
						// Instructs the remote end to copy block data at
						// offset m.Index from the remote file.
						op.IndexB = m.Index
					}
				}
			} else {
				op.Data = block
			}

			out <- op
			index++
		}
	}()

	return out
}
