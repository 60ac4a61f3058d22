package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/nbsync/gosync/destindex"
	"github.com/nbsync/gosync/generator"
	"github.com/nbsync/gosync/receiver"
	"github.com/nbsync/gosync/scanner"
	"github.com/nbsync/gosync/sender"
	"github.com/nbsync/gosync/stats"
	"github.com/nbsync/gosync/wire"
)

// RunSource drives the sending side of a sync: Hello handshake, consuming
// the peer's destination-index description, scanning srcRoot, generating
// jobs, and streaming them out. It returns the run summary once the peer's
// closing Done arrives.
func RunSource(ctx context.Context, t Transport, srcRoot string, opts Options) (stats.Summary, error) {
	start := time.Now()
	runID := stats.NewRunID()
	counters := opts.Counters
	if counters == nil {
		counters = stats.New()
	}

	enc := wire.NewEncoder(t.W)
	dec := wire.NewDecoder(t.R)

	neg, err := exchangeHello(enc, dec, opts, true)
	if err != nil {
		return counters.Snapshot(runID, start, true), errors.Wrap(err, "pipeline: handshake")
	}

	idx, err := consumeDestIndex(dec)
	if err != nil {
		return counters.Snapshot(runID, start, true), errors.Wrap(err, "pipeline: reading destination index")
	}

	genOpts := generator.Options{DeleteEnabled: neg.deleteEnabled, WantChecksum: opts.WantChecksum}
	entries := scanner.Scan(ctx, srcRoot, scanner.Options{})
	jobs := generator.Run(ctx, entries, idx, genOpts)

	sendOpts := sender.Options{Compress: neg.compress}
	opener := sender.LocalOpener{Root: srcRoot}
	if err := sender.Run(ctx, jobs, opener, enc, sendOpts, counters); err != nil {
		return counters.Snapshot(runID, start, true), errors.Wrap(err, "pipeline: sending")
	}

	if c, ok := t.W.(io.Closer); !ok {
		glog.Warningf("pipeline: write side does not implement io.Closer; peer will not see end of stream")
	} else if err := c.Close(); err != nil {
		glog.Warningf("pipeline: closing write side: %v", err)
	}

	done, err := waitForDone(dec)
	if err != nil {
		return counters.Snapshot(runID, start, true), errors.Wrap(err, "pipeline: waiting for completion")
	}

	summary := counters.Snapshot(runID, start, false)
	if done != nil {
		summary.FilesErr = done.FilesErr
	}
	return summary, nil
}

// RunDestination drives the receiving side: Hello handshake, describing
// the current destination tree, then applying the incoming stream until
// the source closes its side, finally reporting a Done summary back.
func RunDestination(ctx context.Context, t Transport, fsys receiver.FileSystem, opts Options) (stats.Summary, error) {
	start := time.Now()
	runID := stats.NewRunID()
	counters := opts.Counters
	if counters == nil {
		counters = stats.New()
	}

	enc := wire.NewEncoder(t.W)
	dec := wire.NewDecoder(t.R)

	if _, err := exchangeHello(enc, dec, opts, false); err != nil {
		return counters.Snapshot(runID, start, true), errors.Wrap(err, "pipeline: handshake")
	}

	if err := receiver.SendInitialExchange(ctx, fsys, enc, opts.FastSkipCache, counters); err != nil {
		return counters.Snapshot(runID, start, true), errors.Wrap(err, "pipeline: describing destination")
	}

	done, err := receiver.Run(ctx, dec, fsys, counters)
	aborted := err != nil
	summary := counters.Snapshot(runID, start, aborted)
	if err != nil {
		reportFatal(enc, err)
		return summary, errors.Wrap(err, "pipeline: receiving")
	}

	finalDone := wire.Done{
		FilesOK: summary.FilesOK, FilesErr: summary.FilesErr,
		Bytes: summary.BytesTransferred + summary.BytesMatched,
		DurationMs: uint64(time.Since(start) / time.Millisecond),
	}
	if done != nil {
		finalDone.FilesOK = done.FilesOK
		finalDone.FilesErr = done.FilesErr
		finalDone.Bytes = done.Bytes
	}
	if err := enc.Encode(finalDone); err != nil {
		return summary, errors.Wrap(err, "pipeline: sending completion summary")
	}
	return summary, nil
}

func consumeDestIndex(dec *wire.Decoder) (*destindex.Index, error) {
	idx := destindex.New(0)
	for {
		m, err := dec.Decode()
		if err != nil {
			return nil, err
		}
		switch v := m.(type) {
		case wire.DestFileEntry:
			idx.Insert(v.Path, destindex.State{
				Size: v.Size, Mtime: v.Mtime, Mode: v.Mode,
				BlockSize: v.BlockSize, Checksums: v.Checksums,
			})
		case wire.DestFileEnd:
			return idx, nil
		default:
			return nil, errors.Errorf("pipeline: expected destination entry, got %T", m)
		}
	}
}

func waitForDone(dec *wire.Decoder) (*wire.Done, error) {
	m, err := dec.Decode()
	if err != nil {
		return nil, err
	}
	done, ok := m.(wire.Done)
	if !ok {
		return nil, errors.Errorf("pipeline: expected Done, got %T", m)
	}
	return &done, nil
}

func reportFatal(enc *wire.Encoder, cause error) {
	if err := enc.Encode(wire.Fatal{Code: wire.FatalCodeProtocol, Message: cause.Error()}); err != nil {
		glog.Warningf("pipeline: failed to report fatal to peer: %v", err)
	}
}
