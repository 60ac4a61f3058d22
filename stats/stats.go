// Package stats holds the atomic counters the pipeline accumulates during
// a sync and the final summary object surfaced once it completes.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Counters is the only mutable state shared across generator, sender, and
// receiver goroutines; every field is updated with atomic.Uint64, which is
// the "rare-access statistics counter" lock the concurrency model permits
// outside the fast-path channels.
type Counters struct {
	FilesCreated     atomic.Uint64
	FilesUpdated     atomic.Uint64
	FilesDeleted     atomic.Uint64
	DirsCreated      atomic.Uint64
	SymlinksCreated  atomic.Uint64
	FilesErr         atomic.Uint64
	BytesTransferred atomic.Uint64
	BytesMatched     atomic.Uint64
	CacheHits        atomic.Uint64
	CacheMisses      atomic.Uint64
}

// New returns a fresh, zeroed Counters.
func New() *Counters { return &Counters{} }

// Summary is the completion object returned to the caller: one sync run's
// worth of results, regardless of which side (generator/sender or
// receiver) computed it.
type Summary struct {
	RunID            string
	FilesOK          uint64
	FilesErr         uint64
	FilesDeleted     uint64
	DirsCreated      uint64
	SymlinksCreated  uint64
	BytesTransferred uint64
	BytesMatched     uint64
	CacheHits        uint64
	CacheMisses      uint64
	Duration         time.Duration
	Aborted          bool
	FatalCode        uint16
	FatalMessage     string
}

// NewRunID mints a fresh sync-run identifier. RunSource and RunDestination
// each mint one per call and return it in that run's Summary.
func NewRunID() string { return uuid.New().String() }

// Snapshot reads every counter once and assembles a Summary. FilesOK is
// derived (files created + updated) rather than tracked as its own atomic
// counter.
func (c *Counters) Snapshot(runID string, start time.Time, aborted bool) Summary {
	created := c.FilesCreated.Load()
	updated := c.FilesUpdated.Load()
	return Summary{
		RunID:            runID,
		FilesOK:          created + updated,
		FilesErr:         c.FilesErr.Load(),
		FilesDeleted:     c.FilesDeleted.Load(),
		DirsCreated:      c.DirsCreated.Load(),
		SymlinksCreated:  c.SymlinksCreated.Load(),
		BytesTransferred: c.BytesTransferred.Load(),
		BytesMatched:     c.BytesMatched.Load(),
		CacheHits:        c.CacheHits.Load(),
		CacheMisses:      c.CacheMisses.Load(),
		Duration:         time.Since(start),
		Aborted:          aborted,
	}
}
