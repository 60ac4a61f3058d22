package receiver

import (
	"context"
	"io"
	"os"

	"github.com/klauspost/compress/s2"
	"github.com/pkg/errors"

	"github.com/nbsync/gosync/delta"
	"github.com/nbsync/gosync/stats"
	"github.com/nbsync/gosync/wire"
)

// pendingFile tracks one path's Data/DataEnd exchange: idle -> open ->
// writing -> finalizing -> idle, matching the per-path state machine the
// streaming phase runs against the destination filesystem.
type pendingFile struct {
	path      string
	mode      os.FileMode
	mtime     int64
	staging   Staging
	delta     bool
	original  io.ReaderAt
	closeOrig func() error
	opsIn     chan<- wire.DeltaOp
	applyErr  <-chan error
	xattrs    map[string][]byte
}

// Run decodes frames from dec and applies each to fsys until the peer
// closes its side of the stream (io.EOF) or a Fatal/decode error occurs.
// On a clean end it returns a Done built from counters; otherwise it
// returns the error that ended the stream. A Done frame arriving from the
// peer is treated as an unexpected message.
func Run(ctx context.Context, dec *wire.Decoder, fsys FileSystem, counters *stats.Counters) (*wire.Done, error) {
	pending := make(map[string]*pendingFile)

	cleanup := func() {
		for _, pf := range pending {
			abortPending(pf)
		}
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "receiver: cancelled")
		default:
		}

		msg, err := dec.Decode()
		if err == io.EOF {
			// The source closes its write side once it has sent every
			// job; that is the normal end of a sync, not a fault.
			done := wire.Done{
				FilesOK:  counters.FilesCreated.Load() + counters.FilesUpdated.Load(),
				FilesErr: counters.FilesErr.Load(),
				Bytes:    counters.BytesTransferred.Load() + counters.BytesMatched.Load(),
			}
			return &done, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "receiver: decoding frame")
		}

		switch v := msg.(type) {
		case wire.Mkdir:
			if err := fsys.Mkdir(v.Path, os.FileMode(v.Mode)); err != nil {
				counters.FilesErr.Add(1)
				continue
			}
			counters.DirsCreated.Add(1)

		case wire.Symlink:
			if err := fsys.Symlink(v.Path, v.Target); err != nil {
				counters.FilesErr.Add(1)
				continue
			}
			counters.SymlinksCreated.Add(1)

		case wire.FileEntry:
			if v.Kind == wire.KindHardlink {
				if err := fsys.Hardlink(v.Path, v.LinkTarget); err != nil {
					counters.FilesErr.Add(1)
				}
				continue
			}
			pf, err := openPending(ctx, fsys, v)
			if err != nil {
				counters.FilesErr.Add(1)
				continue
			}
			pending[v.Path] = pf

		case wire.Data:
			pf, ok := pending[v.Path]
			if !ok {
				continue // no pending record for this path: the frame is dropped and not counted; a DataEnd for it is dropped the same way
			}
			if err := applyData(pf, v, counters); err != nil {
				counters.FilesErr.Add(1)
				abortPending(pf)
				delete(pending, v.Path)
			}

		case wire.DataEnd:
			pf, ok := pending[v.Path]
			if !ok {
				continue
			}
			delete(pending, v.Path)
			if v.Status == wire.StatusErr {
				abortPending(pf)
				counters.FilesErr.Add(1)
				continue
			}
			if err := finalizePending(pf, fsys); err != nil {
				counters.FilesErr.Add(1)
				continue
			}
			if pf.delta {
				counters.FilesUpdated.Add(1)
			} else {
				counters.FilesCreated.Add(1)
			}

		case wire.Xattr:
			pf, ok := pending[v.Path]
			if ok {
				for _, e := range v.Entries {
					pf.xattrs[e.Name] = e.Value
				}
				continue
			}
			for _, e := range v.Entries {
				_ = fsys.SetXattr(v.Path, e.Name, e.Value)
			}

		case wire.Delete:
			var err error
			if v.IsDir {
				err = fsys.RemoveAll(v.Path)
			} else {
				err = fsys.Remove(v.Path)
			}
			if err != nil {
				counters.FilesErr.Add(1)
				continue
			}
			counters.FilesDeleted.Add(1)

		case wire.DeleteEnd:
			// informational only; deletion count already tracked per-op

		case wire.FileEnd:
			// informational only; totals are reconciled via counters

		case wire.Error:
			counters.FilesErr.Add(1)

		case wire.Fatal:
			return nil, errors.Errorf("receiver: peer sent fatal: code=%d %s", v.Code, v.Message)

		default:
			return nil, errors.Errorf("receiver: unexpected message %T", msg)
		}
	}
}

func openPending(ctx context.Context, fsys FileSystem, entry wire.FileEntry) (*pendingFile, error) {
	staging, err := fsys.CreateStaging(entry.Path)
	if err != nil {
		return nil, err
	}

	pf := &pendingFile{
		path: entry.Path, mode: os.FileMode(entry.Mode), mtime: entry.Mtime,
		staging: staging, xattrs: make(map[string][]byte),
	}

	original, closeOrig, err := fsys.OpenOriginal(entry.Path)
	if err != nil {
		staging.Discard()
		return nil, err
	}
	pf.original = original
	pf.closeOrig = closeOrig

	return pf, nil
}

// applyData streams one Data frame into a pending file: either straight
// bytes (full copy, decompressed first if flagged) or a chunk of the delta
// op stream, lazily started on the first delta frame so a full-copy
// transfer never pays for an ops channel it doesn't use.
func applyData(pf *pendingFile, d wire.Data, counters *stats.Counters) error {
	if d.Flags&wire.DataFlagDelta != 0 {
		if pf.opsIn == nil {
			startDeltaApply(pf)
		}
		ops, err := wire.DecodeDeltaOps(d.Bytes)
		if err != nil {
			return errors.Wrap(err, "receiver: decoding delta ops")
		}
		for _, op := range ops {
			switch v := op.(type) {
			case wire.OpCopy:
				counters.BytesMatched.Add(uint64(v.Length))
			case wire.OpLiteral:
				counters.BytesTransferred.Add(uint64(len(v.Bytes)))
			}
			pf.opsIn <- op
		}
		return nil
	}

	payload := d.Bytes
	if d.Flags&wire.DataFlagCompressed != 0 {
		decoded, err := s2.Decode(nil, payload)
		if err != nil {
			return errors.Wrap(err, "receiver: decompressing data frame")
		}
		payload = decoded
	}
	counters.BytesTransferred.Add(uint64(len(payload)))
	_, err := pf.staging.Write(payload)
	return errors.Wrap(err, "receiver: writing staging file")
}

func startDeltaApply(pf *pendingFile) {
	pf.delta = true
	ops := make(chan wire.DeltaOp, 64)
	errc := make(chan error, 1)
	pf.opsIn = ops
	pf.applyErr = errc

	go func() {
		errc <- delta.ApplyDelta(context.Background(), pf.staging, pf.original, ops)
	}()
}

func finalizePending(pf *pendingFile, fsys FileSystem) error {
	applyErr := closeDeltaApply(pf)
	if pf.closeOrig != nil {
		pf.closeOrig()
	}
	if applyErr != nil {
		pf.staging.Discard()
		return errors.Wrap(applyErr, "receiver: applying delta")
	}
	if err := pf.staging.Commit(pf.path, pf.mode); err != nil {
		return errors.Wrap(err, "receiver: committing file")
	}
	if err := fsys.SetMetadata(pf.path, pf.mtime, pf.mode); err != nil {
		return errors.Wrap(err, "receiver: setting metadata")
	}
	for name, value := range pf.xattrs {
		if err := fsys.SetXattr(pf.path, name, value); err != nil {
			return errors.Wrap(err, "receiver: setting xattr")
		}
	}
	return nil
}

// closeDeltaApply closes the ops channel (if the delta apply goroutine was
// ever started) and waits for it to finish, returning its error. Safe to
// call at most once per pendingFile.
func closeDeltaApply(pf *pendingFile) error {
	if pf.opsIn == nil {
		return nil
	}
	close(pf.opsIn)
	pf.opsIn = nil
	return <-pf.applyErr
}

func abortPending(pf *pendingFile) {
	closeDeltaApply(pf)
	if pf.closeOrig != nil {
		pf.closeOrig()
	}
	pf.staging.Discard()
}
