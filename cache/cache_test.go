package cache

import (
	"path/filepath"
	"testing"

	"github.com/hooklift/assert"

	"github.com/nbsync/gosync/wire"
)

func TestPutGetRoundTrip(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	assert.Ok(t, err)
	defer c.Close()

	checksums := []wire.WireBlockChecksum{
		{Offset: 0, Weak: 123, Strong: make([]byte, strongHashSize)},
		{Offset: 4096, Weak: 456, Strong: make([]byte, strongHashSize)},
	}
	assert.Ok(t, c.PutBatch([]Entry{
		{Path: "a.txt", Mtime: 1000, Size: 8192, BlockSize: 4096, Checksums: checksums},
	}))

	blockSize, got, ok := c.Get("a.txt", 1000, 8192)
	assert.Cond(t, ok, "expected a cache hit")
	assert.Equals(t, uint32(4096), blockSize)
	assert.Equals(t, 2, len(got))
	assert.Equals(t, uint32(123), got[0].Weak)
}

func TestGetMissWhenKeyDiffers(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	assert.Ok(t, err)
	defer c.Close()

	assert.Ok(t, c.PutBatch([]Entry{
		{Path: "a.txt", Mtime: 1000, Size: 8192, BlockSize: 4096},
	}))

	_, _, ok := c.Get("a.txt", 1001, 8192) // different mtime
	assert.Cond(t, !ok, "changed mtime must miss the cache")
}
