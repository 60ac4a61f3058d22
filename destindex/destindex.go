// Package destindex holds the generator's in-memory view of what the
// destination already has, populated during the initial exchange and
// drained to nothing (save deletion candidates) by the time the source
// scan finishes.
package destindex

import "github.com/nbsync/gosync/wire"

// State is one destination row: the file metadata the receiver reported
// plus its block checksums, if the receiver decided the file was
// delta-eligible.
type State struct {
	Size      uint64
	Mtime     int64
	Mode      uint32
	IsDir     bool
	BlockSize uint32
	Checksums []wire.WireBlockChecksum
}

// HasChecksums reports whether a delta can be attempted against this row.
func (s State) HasChecksums() bool { return len(s.Checksums) > 0 }

// Index is the generator's destination-state map: relative path to State.
// Not safe for concurrent use — per the concurrency model, it is owned
// exclusively by the generator after initial exchange.
type Index struct {
	rows map[string]State
}

// New creates an empty index sized for an expected number of rows (0 is
// fine; it just skips the map pre-sizing hint).
func New(expected int) *Index {
	return &Index{rows: make(map[string]State, expected)}
}

// Insert records a destination row, called while consuming DestFileEntry
// messages during initial exchange.
func (idx *Index) Insert(path string, s State) {
	idx.rows[path] = s
}

// Take removes and returns the row for path, if any. The generator calls
// this once per source scan entry; whatever is never taken becomes a
// deletion candidate.
func (idx *Index) Take(path string) (State, bool) {
	s, ok := idx.rows[path]
	if ok {
		delete(idx.rows, path)
	}
	return s, ok
}

// Len reports how many rows remain (used to size the deletion pass).
func (idx *Index) Len() int { return len(idx.rows) }

// Remaining calls fn once for every row still in the index, in no
// particular order. Used by the generator to enumerate deletion
// candidates after the source scan completes.
func (idx *Index) Remaining(fn func(path string, s State)) {
	for path, s := range idx.rows {
		fn(path, s)
	}
}
