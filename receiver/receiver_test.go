package receiver

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hooklift/assert"

	"github.com/nbsync/gosync/stats"
	"github.com/nbsync/gosync/wire"
)

func TestMkdirSymlinkAndFullCopyApplied(t *testing.T) {
	root := t.TempDir()
	fsys := NewLocalFS(root)

	var buf bytes.Buffer
	enc := wire.NewEncoder(&buf)
	assert.Ok(t, enc.Encode(wire.Mkdir{Path: "sub", Mode: 0755}))
	assert.Ok(t, enc.Encode(wire.Symlink{Path: "sub/link", Target: "f.txt"}))
	assert.Ok(t, enc.Encode(wire.FileEntry{Path: "sub/f.txt", Size: 5, Mode: 0644, Kind: wire.KindRegular}))
	assert.Ok(t, enc.Encode(wire.Data{Path: "sub/f.txt", Bytes: []byte("hello")}))
	assert.Ok(t, enc.Encode(wire.DataEnd{Path: "sub/f.txt", Status: wire.StatusOK}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counters := stats.New()
	dec := wire.NewDecoder(&buf)
	done, err := Run(ctx, dec, fsys, counters)
	assert.Ok(t, err)
	assert.Cond(t, done != nil, "expected a Done message back")

	got, err := os.ReadFile(filepath.Join(root, "sub/f.txt"))
	assert.Ok(t, err)
	assert.Cond(t, bytes.Equal(got, []byte("hello")), "file content should match transferred bytes")
	assert.Equals(t, uint64(1), counters.FilesCreated.Load())
	assert.Equals(t, uint64(1), counters.DirsCreated.Load())
	assert.Equals(t, uint64(1), counters.SymlinksCreated.Load())
}

func TestFullCopyAppliesSourceMtime(t *testing.T) {
	root := t.TempDir()
	fsys := NewLocalFS(root)

	const wantMtime = 1000000000 // 2001-09-09, far from any "just created" timestamp
	var buf bytes.Buffer
	enc := wire.NewEncoder(&buf)
	assert.Ok(t, enc.Encode(wire.FileEntry{Path: "f.txt", Size: 5, Mode: 0644, Mtime: wantMtime, Kind: wire.KindRegular}))
	assert.Ok(t, enc.Encode(wire.Data{Path: "f.txt", Bytes: []byte("hello")}))
	assert.Ok(t, enc.Encode(wire.DataEnd{Path: "f.txt", Status: wire.StatusOK}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dec := wire.NewDecoder(&buf)
	_, err := Run(ctx, dec, fsys, stats.New())
	assert.Ok(t, err)

	info, err := os.Stat(filepath.Join(root, "f.txt"))
	assert.Ok(t, err)
	assert.Equals(t, int64(wantMtime), info.ModTime().Unix())
}

func TestDeleteRemovesPath(t *testing.T) {
	root := t.TempDir()
	assert.Ok(t, os.WriteFile(filepath.Join(root, "gone.txt"), []byte("x"), 0644))
	fsys := NewLocalFS(root)

	var buf bytes.Buffer
	enc := wire.NewEncoder(&buf)
	assert.Ok(t, enc.Encode(wire.Delete{Path: "gone.txt"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counters := stats.New()
	dec := wire.NewDecoder(&buf)
	_, err := Run(ctx, dec, fsys, counters)
	assert.Ok(t, err)

	_, statErr := os.Stat(filepath.Join(root, "gone.txt"))
	assert.Cond(t, os.IsNotExist(statErr), "deleted file should be gone")
	assert.Equals(t, uint64(1), counters.FilesDeleted.Load())
}

func TestFatalFromPeerIsReturnedAsError(t *testing.T) {
	root := t.TempDir()
	fsys := NewLocalFS(root)

	var buf bytes.Buffer
	enc := wire.NewEncoder(&buf)
	assert.Ok(t, enc.Encode(wire.Fatal{Code: wire.FatalCodeProtocol, Message: "bad frame"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dec := wire.NewDecoder(&buf)
	_, err := Run(ctx, dec, fsys, stats.New())
	assert.Cond(t, err != nil, "fatal message should surface as an error")
}

func TestDataEndErrStatusDiscardsStaging(t *testing.T) {
	root := t.TempDir()
	fsys := NewLocalFS(root)

	var buf bytes.Buffer
	enc := wire.NewEncoder(&buf)
	assert.Ok(t, enc.Encode(wire.FileEntry{Path: "partial.bin", Size: 3, Kind: wire.KindRegular}))
	assert.Ok(t, enc.Encode(wire.Data{Path: "partial.bin", Bytes: []byte("ab")}))
	assert.Ok(t, enc.Encode(wire.DataEnd{Path: "partial.bin", Status: wire.StatusErr}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counters := stats.New()
	dec := wire.NewDecoder(&buf)
	_, err := Run(ctx, dec, fsys, counters)
	assert.Ok(t, err)

	_, statErr := os.Stat(filepath.Join(root, "partial.bin"))
	assert.Cond(t, os.IsNotExist(statErr), "aborted transfer must not leave a visible file")
	assert.Equals(t, uint64(1), counters.FilesErr.Load())

	entries, rerr := os.ReadDir(root)
	assert.Ok(t, rerr)
	assert.Equals(t, 0, len(entries))
}
