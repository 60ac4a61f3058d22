package delta

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/nbsync/gosync/checksum"
	"github.com/nbsync/gosync/wire"
)

// literalChunkSize bounds how large a single Literal op's byte slice can
// grow before it is flushed, per the spec's literal-flushing discipline.
const literalChunkSize = 64 * 1024

type blockEntry struct {
	offset uint64
	strong []byte
}

func buildLookupTable(checksums []wire.WireBlockChecksum) map[uint32][]blockEntry {
	table := make(map[uint32][]blockEntry, len(checksums))
	for _, c := range checksums {
		table[c.Weak] = append(table[c.Weak], blockEntry{offset: c.Offset, strong: c.Strong})
	}
	return table
}

// GenerateDelta compares r (the new, source-side file content) against a
// set of block checksums describing the destination's prior copy, and
// streams a minimal sequence of Copy/Literal ops that reconstructs r when
// applied against that prior copy.
//
// This is the direct generalization of the teacher's gsync_client.go Sync
// function: where the teacher re-reads fixed DefaultBlockSize chunks and
// can only emit a Copy when a block boundary lines up exactly, this
// version slides a ring-buffered window one byte at a time so an insertion
// or deletion in the middle of the file still resynchronizes against the
// destination's blocks instead of falling back to a full literal transfer
// for the remainder of the file.
//
// The returned error channel receives exactly one value — nil on a clean
// EOF, the read error that cut the source short, or ctx.Err() on
// cancellation — sent just before the ops channel closes. A caller must
// drain it to tell a truncated transfer from a complete one;
// ranging over the ops channel alone cannot distinguish the two.
func GenerateDelta(ctx context.Context, r io.Reader, blockSize uint32, checksums []wire.WireBlockChecksum) (<-chan wire.DeltaOp, <-chan error, error) {
	if r == nil {
		return nil, nil, errors.New("delta: reader required")
	}
	if blockSize == 0 {
		return nil, nil, errors.New("delta: block size must be positive")
	}

	table := buildLookupTable(checksums)
	out := make(chan wire.DeltaOp)
	errc := make(chan error, 1)

	go func() {
		var retErr error
		defer func() {
			errc <- retErr
			close(out)
		}()

		br := bufio.NewReaderSize(r, int(blockSize)*4)
		win := newRingWindow(int(blockSize))
		var literal []byte

		send := func(op wire.DeltaOp) bool {
			select {
			case out <- op:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// flush emits literal as complete literalChunkSize chunks; if all
		// is true, it also flushes whatever remainder is left (used at
		// EOF and right before a Copy so ops stay correctly ordered).
		flush := func(all bool) bool {
			for len(literal) >= literalChunkSize {
				chunk := append([]byte(nil), literal[:literalChunkSize]...)
				if !send(wire.OpLiteral{Bytes: chunk}) {
					return false
				}
				literal = literal[literalChunkSize:]
			}
			if all && len(literal) > 0 {
				chunk := append([]byte(nil), literal...)
				if !send(wire.OpLiteral{Bytes: chunk}) {
					return false
				}
				literal = nil
			}
			return true
		}

		// fill reads up to win.cap() fresh bytes into win (which must
		// start empty) and returns how many were read.
		fill := func() (int, error) {
			n := 0
			for n < win.cap() {
				b, err := br.ReadByte()
				if err != nil {
					return n, err
				}
				win.push(b)
				n++
			}
			return n, nil
		}

		n, ferr := fill()
		if ferr != nil && ferr != io.EOF {
			retErr = errors.Wrap(ferr, "delta: reading source file")
			return
		}
		if n == 0 {
			return
		}
		if n < win.cap() {
			literal = append(literal, win.ordered()...)
			if !flush(true) {
				retErr = ctx.Err()
			}
			return
		}

		weak := checksum.NewWeak(win.ordered())

		for {
			select {
			case <-ctx.Done():
				retErr = ctx.Err()
				return
			default:
			}

			if entries, ok := table[weak.Sum()]; ok {
				windowBytes := win.ordered()
				if match, found := matchEntry(entries, windowBytes); found {
					if !flush(true) {
						retErr = ctx.Err()
						return
					}
					if !send(wire.OpCopy{Offset: match.offset, Length: uint32(len(windowBytes))}) {
						retErr = ctx.Err()
						return
					}

					win.reset()
					nf, ferr := fill()
					if ferr != nil && ferr != io.EOF {
						retErr = errors.Wrap(ferr, "delta: reading source file")
						return
					}
					if nf == 0 {
						return
					}
					if nf < win.cap() {
						literal = append(literal, win.ordered()...)
						if !flush(true) {
							retErr = ctx.Err()
						}
						return
					}
					weak = checksum.NewWeak(win.ordered())
					continue
				}
			}

			b, rerr := br.ReadByte()
			if rerr != nil {
				if rerr != io.EOF {
					retErr = errors.Wrap(rerr, "delta: reading source file")
					return
				}
				literal = append(literal, win.ordered()...)
				if !flush(true) {
					retErr = ctx.Err()
				}
				return
			}

			evicted, _ := win.push(b)
			literal = append(literal, evicted)
			weak = weak.Roll(evicted, b)
			if !flush(false) {
				retErr = ctx.Err()
				return
			}
		}
	}()

	return out, errc, nil
}

func matchEntry(entries []blockEntry, window []byte) (blockEntry, bool) {
	sum := checksum.StrongSum(window)
	for _, e := range entries {
		if bytes.Equal(sum, e.strong) {
			return e, true
		}
	}
	return blockEntry{}, false
}
