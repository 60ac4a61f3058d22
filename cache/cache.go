// Package cache persists the destination's per-file block checksums across
// runs, keyed by (path, mtime, size), so the receiver's initial exchange
// can skip re-hashing a file it has already scanned and found unchanged
// since the prior run.
package cache

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/nbsync/gosync/wire"
)

var bucketName = []byte("block-checksums")

// strongHashSize is the fixed width of checksum.StrongSum's output
// (SHA-256), which lets the on-disk encoding below use a fixed-width
// record per block instead of a length-prefixed one.
const strongHashSize = 32

// Cache wraps a single bbolt database file. Opening it creates the bucket
// if missing; Close must be called to release the file lock.
type Cache struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "cache: opening database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cache: creating bucket")
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// key builds the composite lookup key: an xxhash of the path folded
// together with the raw mtime/size, fast enough to compute on every
// initial-exchange entry without becoming the bottleneck it exists to
// avoid.
func key(path string, mtime int64, size uint64) []byte {
	h := xxhash.New()
	_, _ = h.Write([]byte(path))
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(mtime))
	binary.BigEndian.PutUint64(buf[8:16], size)
	_, _ = h.Write(buf[:])

	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, h.Sum64())
	return out
}

// Entry is one destination file's cached checksum set, as persisted by
// PutBatch and returned by Get.
type Entry struct {
	Path      string
	Mtime     int64
	Size      uint64
	BlockSize uint32
	Checksums []wire.WireBlockChecksum
}

// Get returns the cached block checksums for (path, mtime, size), if any.
// A miss is not an error — it just means the caller must hash the file
// itself this time and, if it wants the result remembered, call PutBatch.
func (c *Cache) Get(path string, mtime int64, size uint64) (blockSize uint32, checksums []wire.WireBlockChecksum, ok bool) {
	_ = c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key(path, mtime, size))
		if v == nil {
			return nil
		}
		bs, cs, err := decode(v)
		if err != nil {
			return nil // corrupt/foreign record: treat as a miss, caller re-hashes
		}
		blockSize, checksums, ok = bs, cs, true
		return nil
	})
	return blockSize, checksums, ok
}

// PutBatch writes every entry inside one bbolt transaction, so a crash
// mid-scan loses at most the in-flight batch rather than corrupting
// previously committed rows.
func (c *Cache) PutBatch(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, e := range entries {
			if err := b.Put(key(e.Path, e.Mtime, e.Size), encode(e.BlockSize, e.Checksums)); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "cache: writing batch")
}

// encode packs blockSize and a checksum list into a fixed-stride record:
// [blockSize:4][count:4] then, per block, [offset:8][weak:4][strong:32].
func encode(blockSize uint32, checksums []wire.WireBlockChecksum) []byte {
	out := make([]byte, 8+len(checksums)*(8+4+strongHashSize))
	binary.BigEndian.PutUint32(out[0:4], blockSize)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(checksums)))

	pos := 8
	for _, c := range checksums {
		binary.BigEndian.PutUint64(out[pos:pos+8], c.Offset)
		binary.BigEndian.PutUint32(out[pos+8:pos+12], c.Weak)
		strong := c.Strong
		if len(strong) != strongHashSize {
			strong = make([]byte, strongHashSize)
		}
		copy(out[pos+12:pos+12+strongHashSize], strong)
		pos += 8 + 4 + strongHashSize
	}
	return out
}

func decode(v []byte) (uint32, []wire.WireBlockChecksum, error) {
	if len(v) < 8 {
		return 0, nil, errors.New("cache: record too short")
	}
	blockSize := binary.BigEndian.Uint32(v[0:4])
	count := binary.BigEndian.Uint32(v[4:8])

	stride := 8 + 4 + strongHashSize
	want := 8 + int(count)*stride
	if len(v) != want {
		return 0, nil, errors.New("cache: record length mismatch")
	}

	checksums := make([]wire.WireBlockChecksum, count)
	pos := 8
	for i := range checksums {
		checksums[i].Offset = binary.BigEndian.Uint64(v[pos : pos+8])
		checksums[i].Weak = binary.BigEndian.Uint32(v[pos+8 : pos+12])
		strong := make([]byte, strongHashSize)
		copy(strong, v[pos+12:pos+12+strongHashSize])
		checksums[i].Strong = strong
		pos += stride
	}
	return blockSize, checksums, nil
}
