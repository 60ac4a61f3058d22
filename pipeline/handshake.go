package pipeline

import (
	"github.com/pkg/errors"

	"github.com/nbsync/gosync/cache"
	"github.com/nbsync/gosync/stats"
	"github.com/nbsync/gosync/wire"
)

// Options configures one end of a sync run. RootPath is advertised in
// Hello purely for diagnostics; each side still resolves paths against its
// own local FileSystem/scanner root.
type Options struct {
	RootPath      string
	DeleteEnabled bool
	WantChecksum  bool
	Compress      bool
	Xattrs        bool

	// FastSkipCache, when set, lets RunDestination skip re-hashing
	// destination files unchanged since the last run. Optional — nil
	// disables the cache and every eligible file is hashed fresh.
	FastSkipCache *cache.Cache

	// Counters, when set, is updated in place instead of a fresh one the
	// run would otherwise allocate — lets a caller (e.g. the demo binary's
	// metrics server) observe progress while the run is still in flight.
	Counters *stats.Counters
}

func (o Options) flags(isPull bool) uint32 {
	var f uint32
	if isPull {
		f |= wire.FlagIsPull
	}
	if o.DeleteEnabled {
		f |= wire.FlagWantDelete
	}
	if o.WantChecksum {
		f |= wire.FlagWantChecksum
	}
	if o.Compress {
		f |= wire.FlagWantCompression
	}
	if o.Xattrs {
		f |= wire.FlagWantXattrs
	}
	return f
}

// negotiated is what both peers agree to run with after Hello exchange:
// the intersection of what each side asked for, since a capability only
// makes sense if both ends support it.
type negotiated struct {
	deleteEnabled bool
	compress      bool
	xattrs        bool
}

// exchangeHello sends this side's Hello and reads the peer's, failing
// fast with a Fatal frame on a protocol version mismatch. isPull
// identifies which side is making the request (vs. serving it); it has no
// bearing on which side is the "source" of file data.
func exchangeHello(enc *wire.Encoder, dec *wire.Decoder, opts Options, isPull bool) (negotiated, error) {
	local := wire.Hello{Version: wire.ProtocolVersion, Flags: opts.flags(isPull), RootPath: opts.RootPath}

	type result struct {
		hello wire.Hello
		err   error
	}
	peerCh := make(chan result, 1)
	go func() {
		m, err := dec.Decode()
		if err != nil {
			peerCh <- result{err: errors.Wrap(err, "pipeline: reading peer hello")}
			return
		}
		h, ok := m.(wire.Hello)
		if !ok {
			peerCh <- result{err: errors.Errorf("pipeline: expected Hello, got %T", m)}
			return
		}
		peerCh <- result{hello: h}
	}()

	if err := enc.Encode(local); err != nil {
		return negotiated{}, errors.Wrap(err, "pipeline: sending hello")
	}

	r := <-peerCh
	if r.err != nil {
		return negotiated{}, r.err
	}

	if r.hello.Version != wire.ProtocolVersion {
		_ = enc.Encode(wire.Fatal{Code: wire.FatalCodeVersionMismatch, Message: "protocol version mismatch"})
		return negotiated{}, errors.Errorf("pipeline: peer protocol version %d, want %d", r.hello.Version, wire.ProtocolVersion)
	}

	return negotiated{
		deleteEnabled: opts.DeleteEnabled && r.hello.Flags&wire.FlagWantDelete != 0,
		compress:      opts.Compress && r.hello.Flags&wire.FlagWantCompression != 0,
		xattrs:        opts.Xattrs && r.hello.Flags&wire.FlagWantXattrs != 0,
	}, nil
}
