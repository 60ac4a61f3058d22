package receiver

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nbsync/gosync/cache"
	"github.com/nbsync/gosync/delta"
	"github.com/nbsync/gosync/scanner"
	"github.com/nbsync/gosync/stats"
	"github.com/nbsync/gosync/wire"
)

// checksumWorkers bounds how many files are hashed concurrently during the
// initial exchange — a CPU-bound pool, separate from the single streaming
// connection the rest of the sync runs over.
const checksumWorkers = 4

// SendInitialExchange scans the destination tree and streams one
// DestFileEntry per entry followed by a DestFileEnd, so the generator can
// build its destination index before the source scan begins. File
// checksums are computed by a bounded worker pool (golang.org/x/sync
// errgroup plus a buffered-channel semaphore, mirrored from the same concurrency discipline
// freightliner's pkg/replication/worker.go uses) since hashing is CPU-bound
// and independent per file. When fastSkip is non-nil, a cache hit for
// (path, mtime, size) skips re-reading the file entirely; new or changed
// files are hashed and queued for a single batched write back to the
// cache once the scan completes.
func SendInitialExchange(ctx context.Context, fsys FileSystem, enc *wire.Encoder, fastSkip *cache.Cache, counters *stats.Counters) error {
	entries := scanner.Scan(ctx, fsys.Root(), scanner.Options{})

	type result struct {
		entry    scanner.Entry
		msg      wire.DestFileEntry
		newEntry *cache.Entry
		err      error
	}

	results := make(chan result, checksumWorkers*2)
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, checksumWorkers)

	g.Go(func() error {
		defer close(results)
		var inflight errgroup.Group
		for entry := range entries {
			entry := entry
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			if entry.Kind != scanner.KindRegular {
				results <- result{entry: entry, msg: direntryFor(entry)}
				continue
			}

			sem <- struct{}{}
			inflight.Go(func() error {
				defer func() { <-sem }()
				msg, newEntry, err := fileEntryWithChecksums(fsys, entry, fastSkip, counters)
				results <- result{entry: entry, msg: msg, newEntry: newEntry, err: err}
				return nil
			})
		}
		return inflight.Wait()
	})

	var totalFiles, totalBytes uint64
	var encErr error
	var toCache []cache.Entry
	for r := range results {
		if r.err != nil {
			continue // unreadable destination file: treated as absent, source will re-send it whole
		}
		if encErr != nil {
			continue // drain remaining results after a write failure so producers don't block
		}
		if r.entry.Kind == scanner.KindRegular {
			totalFiles++
			totalBytes += uint64(r.entry.Size)
		}
		if r.newEntry != nil {
			toCache = append(toCache, *r.newEntry)
		}
		if err := enc.Encode(r.msg); err != nil {
			encErr = errors.Wrap(err, "receiver: sending destination entry")
		}
	}

	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "receiver: scanning destination")
	}
	if encErr != nil {
		return encErr
	}

	if fastSkip != nil && len(toCache) > 0 {
		if err := fastSkip.PutBatch(toCache); err != nil {
			return errors.Wrap(err, "receiver: persisting fast-skip cache")
		}
	}

	return enc.Encode(wire.DestFileEnd{TotalFiles: totalFiles, TotalBytes: totalBytes})
}

func direntryFor(entry scanner.Entry) wire.DestFileEntry {
	return wire.DestFileEntry{
		Path: entry.Path, Size: uint64(entry.Size), Mtime: entry.Mtime, Mode: entry.Mode,
	}
}

// fileEntryWithChecksums computes (or recalls from fastSkip) the block
// checksums for one destination file. It returns a non-nil *cache.Entry
// exactly when it freshly computed checksums that should be persisted;
// a cache hit returns msg alone.
func fileEntryWithChecksums(fsys FileSystem, entry scanner.Entry, fastSkip *cache.Cache, counters *stats.Counters) (wire.DestFileEntry, *cache.Entry, error) {
	msg := direntryFor(entry)
	if entry.Size < delta.MinSizeForDelta {
		return msg, nil, nil
	}

	if fastSkip != nil {
		if blockSize, checksums, ok := fastSkip.Get(entry.Path, entry.Mtime, entry.Size); ok {
			if counters != nil {
				counters.CacheHits.Add(1)
			}
			msg.Flags = wire.DestFlagHasChecksums
			msg.BlockSize = blockSize
			msg.Checksums = checksums
			return msg, nil, nil
		}
		if counters != nil {
			counters.CacheMisses.Add(1)
		}
	}

	r, closeFn, err := fsys.OpenOriginal(entry.Path)
	if err != nil {
		return msg, nil, err
	}
	defer closeFn()

	rd, ok := r.(io.Reader)
	if !ok {
		return msg, nil, nil
	}

	blockSize := delta.BlockSize(entry.Size)
	checksums, err := delta.GenerateChecksums(rd, blockSize)
	if err != nil {
		return msg, nil, err
	}

	msg.Flags = wire.DestFlagHasChecksums
	msg.BlockSize = blockSize
	msg.Checksums = checksums

	newEntry := &cache.Entry{
		Path: entry.Path, Mtime: entry.Mtime, Size: entry.Size,
		BlockSize: blockSize, Checksums: checksums,
	}
	return msg, newEntry, nil
}
