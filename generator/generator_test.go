package generator

import (
	"context"
	"testing"
	"time"

	"github.com/hooklift/assert"

	"github.com/nbsync/gosync/destindex"
	"github.com/nbsync/gosync/scanner"
	"github.com/nbsync/gosync/wire"
)

func drain(t *testing.T, entries []scanner.Entry, idx *destindex.Index, opts Options) []Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := make(chan scanner.Entry, len(entries))
	for _, e := range entries {
		ch <- e
	}
	close(ch)

	var jobs []Job
	for j := range Run(ctx, ch, idx, opts) {
		jobs = append(jobs, j)
	}
	return jobs
}

func TestFreshCopyEmitsFullFileJobs(t *testing.T) {
	idx := destindex.New(0)
	entries := []scanner.Entry{
		{Path: "a.txt", Kind: scanner.KindRegular, Size: 5},
	}
	jobs := drain(t, entries, idx, Options{})

	assert.Equals(t, 2, len(jobs))
	fj, ok := jobs[0].(FileJob)
	assert.Cond(t, ok, "expected a FileJob first")
	assert.Cond(t, !fj.NeedDelta, "fresh file has no destination row, must be full copy")

	end, ok := jobs[1].(FileEndJob)
	assert.Cond(t, ok, "expected FileEndJob second")
	assert.Equals(t, uint64(1), end.TotalFiles)
}

func TestIdempotentResyncSkipsMatchingFile(t *testing.T) {
	idx := destindex.New(0)
	idx.Insert("a.txt", destindex.State{Size: 5, Mtime: 100, Mode: 0644})

	entries := []scanner.Entry{
		{Path: "a.txt", Kind: scanner.KindRegular, Size: 5, Mtime: 100, Mode: 0644},
	}
	jobs := drain(t, entries, idx, Options{})

	assert.Equals(t, 1, len(jobs))
	_, ok := jobs[0].(FileEndJob)
	assert.Cond(t, ok, "matching file should produce no FileJob, only FileEnd")
}

func TestChangedLargeFileUsesDelta(t *testing.T) {
	idx := destindex.New(0)
	idx.Insert("big.bin", destindex.State{
		Size: 200000, Mtime: 100, Mode: 0644,
		BlockSize: 1024, Checksums: []wire.WireBlockChecksum{{Offset: 0, Weak: 1}},
	})

	entries := []scanner.Entry{
		// mtime changed, above delta.MinSizeForDelta, destination has checksums.
		{Path: "big.bin", Kind: scanner.KindRegular, Size: 200000, Mtime: 200, Mode: 0644},
	}
	jobs := drain(t, entries, idx, Options{})

	assert.Equals(t, 2, len(jobs))
	fj, ok := jobs[0].(FileJob)
	assert.Cond(t, ok, "expected a FileJob first")
	assert.Cond(t, fj.NeedDelta, "changed large file with destination checksums should use delta")
}

func TestDeletionCandidatesAfterScan(t *testing.T) {
	idx := destindex.New(0)
	idx.Insert("gone.txt", destindex.State{})

	jobs := drain(t, nil, idx, Options{DeleteEnabled: true})

	var sawDelete, sawDeleteEnd bool
	for _, j := range jobs {
		switch v := j.(type) {
		case DeleteJob:
			sawDelete = true
			assert.Equals(t, "gone.txt", v.Path)
		case DeleteEndJob:
			sawDeleteEnd = true
			assert.Equals(t, uint64(1), v.Count)
		}
	}
	assert.Cond(t, sawDelete && sawDeleteEnd, "expected a Delete followed by DeleteEnd")
}

func TestHardlinkToEarlierScanEntry(t *testing.T) {
	idx := destindex.New(0)
	entries := []scanner.Entry{
		{Path: "first", Kind: scanner.KindRegular, Size: 5, Inode: 42},
		{Path: "second", Kind: scanner.KindRegular, Size: 5, Inode: 42},
	}
	jobs := drain(t, entries, idx, Options{})

	var hl HardlinkJob
	var found bool
	for _, j := range jobs {
		if v, ok := j.(HardlinkJob); ok {
			hl, found = v, true
		}
	}
	assert.Cond(t, found, "expected a HardlinkJob for the second entry")
	assert.Equals(t, "first", hl.LinkTarget)
}

func TestScanErrorBecomesErrorJob(t *testing.T) {
	idx := destindex.New(0)
	entries := []scanner.Entry{{Path: "broken", Err: assertErr{}}}
	jobs := drain(t, entries, idx, Options{})

	var found bool
	for _, j := range jobs {
		if _, ok := j.(ErrorJob); ok {
			found = true
		}
	}
	assert.Cond(t, found, "scan error should surface as an ErrorJob")
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
