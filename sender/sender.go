// Package sender consumes generator jobs, reads the corresponding source
// files, computes deltas against destination checksums when available, and
// writes the resulting wire messages out to the receiver.
package sender

import (
	"context"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/klauspost/compress/s2"
	"github.com/pkg/errors"

	"github.com/nbsync/gosync/delta"
	"github.com/nbsync/gosync/generator"
	"github.com/nbsync/gosync/stats"
	"github.com/nbsync/gosync/wire"
)

// fullCopyChunkSize bounds how much of a file is read into memory per Data
// frame when shipping a full copy (no destination checksums to diff
// against).
const fullCopyChunkSize = 256 * 1024

// maxOpsPerFrame bounds how many delta ops accumulate before being flushed
// as a Data frame, keeping each frame well under wire.MaxFrameSize without
// having to predict the encoded size up front: 512 ops of at most one
// 64 KiB literal each encode to about 32 MiB.
const maxOpsPerFrame = 512

// FileOpener resolves a generator job's path to a readable source file.
// The sender never constructs os.File directly so tests can substitute an
// in-memory filesystem.
type FileOpener interface {
	Open(path string) (io.ReadCloser, error)
}

// LocalOpener opens files relative to a root directory using the os
// package.
type LocalOpener struct {
	Root string
}

func (l LocalOpener) Open(path string) (io.ReadCloser, error) {
	return os.Open(joinRoot(l.Root, path))
}

func joinRoot(root, path string) string {
	if root == "" {
		return path
	}
	return root + string(os.PathSeparator) + path
}

// Options controls sender behavior.
type Options struct {
	Compress bool // negotiated via wire.FlagWantCompression during handshake
}

// Run drains jobs, emitting the corresponding wire messages through enc,
// until jobs closes or ctx is cancelled. Counters records bytes
// transferred/matched for the run summary.
func Run(ctx context.Context, jobs <-chan generator.Job, opener FileOpener, enc *wire.Encoder, opts Options, counters *stats.Counters) error {
	for job := range jobs {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "sender: cancelled")
		default:
		}

		if err := dispatch(ctx, job, opener, enc, opts, counters); err != nil {
			return err
		}
	}
	return nil
}

func dispatch(ctx context.Context, job generator.Job, opener FileOpener, enc *wire.Encoder, opts Options, counters *stats.Counters) error {
	switch v := job.(type) {
	case generator.MkdirJob:
		return enc.Encode(wire.Mkdir{Path: v.Path, Mode: v.Mode})

	case generator.SymlinkJob:
		return enc.Encode(wire.Symlink{Path: v.Path, Target: v.Target})

	case generator.HardlinkJob:
		return enc.Encode(wire.FileEntry{
			Path: v.Path, Kind: wire.KindHardlink, LinkTarget: v.LinkTarget,
		})

	case generator.DeleteJob:
		return enc.Encode(wire.Delete{Path: v.Path, IsDir: v.IsDir})

	case generator.DeleteEndJob:
		return enc.Encode(wire.DeleteEnd{Count: v.Count})

	case generator.FileEndJob:
		return enc.Encode(wire.FileEnd{TotalFiles: v.TotalFiles, TotalBytes: v.TotalBytes})

	case generator.ErrorJob:
		return enc.Encode(wire.Error{Path: v.Path, Message: v.Message})

	case generator.FileJob:
		return sendFile(ctx, v, opener, enc, opts, counters)

	default:
		return errors.Errorf("sender: unknown job type %T", job)
	}
}

func sendFile(ctx context.Context, job generator.FileJob, opener FileOpener, enc *wire.Encoder, opts Options, counters *stats.Counters) error {
	if err := enc.Encode(wire.FileEntry{
		Path: job.Path, Size: job.Size, Mtime: job.Mtime, Mode: job.Mode,
		Inode: job.Inode, Kind: wire.KindRegular,
	}); err != nil {
		return errors.Wrapf(err, "sender: announcing %s", job.Path)
	}

	f, err := opener.Open(job.Path)
	if err != nil {
		return enc.Encode(wire.DataEnd{Path: job.Path, Status: wire.StatusErr})
	}
	defer f.Close()

	var sendErr error
	if job.NeedDelta {
		sendErr = sendDelta(ctx, job, f, enc, opts, counters)
	} else {
		sendErr = sendFullCopy(ctx, job, f, enc, opts, counters)
	}

	status := wire.StatusOK
	if sendErr != nil {
		glog.Warningf("sender: %s: %v", job.Path, sendErr)
		status = wire.StatusErr
	}
	if err := enc.Encode(wire.DataEnd{Path: job.Path, Status: status}); err != nil {
		return errors.Wrapf(err, "sender: closing %s", job.Path)
	}
	return nil
}

func sendFullCopy(ctx context.Context, job generator.FileJob, r io.Reader, enc *wire.Encoder, opts Options, counters *stats.Counters) error {
	buf := make([]byte, fullCopyChunkSize)
	var offset uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			payload, flags, encErr := maybeCompress(buf[:n], opts)
			if encErr != nil {
				return encErr
			}
			if werr := enc.Encode(wire.Data{Path: job.Path, Offset: offset, Flags: flags, Bytes: payload}); werr != nil {
				return errors.Wrap(werr, "sender: writing data frame")
			}
			offset += uint64(n)
			counters.BytesTransferred.Add(uint64(n))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "sender: reading source file")
		}
	}
}

func sendDelta(ctx context.Context, job generator.FileJob, r io.Reader, enc *wire.Encoder, opts Options, counters *stats.Counters) error {
	ops, errc, err := delta.GenerateDelta(ctx, r, job.BlockSize, job.Checksums)
	if err != nil {
		return errors.Wrap(err, "sender: generating delta")
	}

	var batch []wire.DeltaOp
	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		payload, err := wire.EncodeDeltaOps(batch)
		if err != nil {
			return errors.Wrap(err, "sender: encoding delta ops")
		}
		if err := enc.Encode(wire.Data{Path: job.Path, Flags: wire.DataFlagDelta, Bytes: payload}); err != nil {
			return errors.Wrap(err, "sender: writing delta frame")
		}
		batch = batch[:0]
		return nil
	}

	for op := range ops {
		switch v := op.(type) {
		case wire.OpCopy:
			counters.BytesMatched.Add(uint64(v.Length))
		case wire.OpLiteral:
			counters.BytesTransferred.Add(uint64(len(v.Bytes)))
		}
		batch = append(batch, op)
		if len(batch) >= maxOpsPerFrame {
			if err := flushBatch(); err != nil {
				return err
			}
		}
	}
	if genErr := <-errc; genErr != nil {
		return errors.Wrap(genErr, "sender: generating delta")
	}
	return flushBatch()
}

// maybeCompress applies s2 compression to a full-copy chunk when
// negotiated, returning the (possibly unchanged) payload and the flags
// byte to tag it with.
func maybeCompress(chunk []byte, opts Options) ([]byte, uint8, error) {
	if !opts.Compress {
		return chunk, 0, nil
	}
	compressed := s2.Encode(nil, chunk)
	if len(compressed) >= len(chunk) {
		return chunk, 0, nil
	}
	return compressed, wire.DataFlagCompressed, nil
}
