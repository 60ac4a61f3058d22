package delta

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/hooklift/assert"
	"github.com/pkg/profile"

	"github.com/nbsync/gosync/wire"
)

func srand(seed int64, size int) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, size)
	r.Read(buf)
	return buf
}

// reconstruct runs the full generate+apply round trip against a prior copy
// and returns the reconstructed bytes.
func reconstruct(t *testing.T, source, prior []byte) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	blockSize := BlockSize(int64(len(prior)))
	checksums, err := GenerateChecksums(bytes.NewReader(prior), blockSize)
	assert.Ok(t, err)

	ops, errc, err := GenerateDelta(ctx, bytes.NewReader(source), blockSize, checksums)
	assert.Ok(t, err)

	var out bytes.Buffer
	assert.Ok(t, ApplyDelta(ctx, &out, bytes.NewReader(prior), ops))
	assert.Ok(t, <-errc)
	return out.Bytes()
}

// TestDeltaCorrectness covers testable property #3: applying the emitted
// op list against the prior copy always reproduces the source bytewise.
func TestDeltaCorrectness(t *testing.T) {
	defer profile.Start().Stop()

	tests := []struct {
		desc   string
		source []byte
		prior  []byte
	}{
		{"full sync, empty prior, 2mb file", srand(10, 2*1024*1024), nil},
		{"partial overlap, 2mb prior, 5mb file", append(srand(20, 2*1024*1024), srand(99, 3*1024*1024)...), srand(20, 2*1024*1024)},
		{"identical file", srand(30, 512*1024), srand(30, 512*1024)},
		{"empty file", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got := reconstruct(t, tt.source, tt.prior)
			assert.Cond(t, bytes.Equal(tt.source, got), "reconstructed content must equal source")
		})
	}
}

// TestDeltaIdempotentWholeFileCopy covers the boundary behavior "file
// exactly equal to destination": the delta generator emits one Copy per
// block rather than a single whole-file Copy, and no literal as long as the
// file is a whole number of blocks (a trailing partial block, or a file
// shorter than one block, is sent as a literal).
func TestDeltaIdempotentWholeFileCopy(t *testing.T) {
	ctx := context.Background()
	content := bytes.Repeat([]byte{0x41}, 4096)

	blockSize := BlockSize(int64(len(content)))
	checksums, err := GenerateChecksums(bytes.NewReader(content), blockSize)
	assert.Ok(t, err)

	ops, errc, err := GenerateDelta(ctx, bytes.NewReader(content), blockSize, checksums)
	assert.Ok(t, err)

	var copies, literals int
	for op := range ops {
		switch op.(type) {
		case wire.OpCopy:
			copies++
		case wire.OpLiteral:
			literals++
		}
	}
	assert.Ok(t, <-errc)
	assert.Cond(t, copies > 0, "identical content should produce at least one copy op")
	assert.Cond(t, literals == 0, "identical content should produce no literal ops")
}

type failAfterReader struct {
	data []byte
	err  error
}

func (r *failAfterReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

// TestDeltaSurfacesReadError covers the fault case spec.md §7's per-file IO
// row names: a source read failing mid-transfer must not look like a clean
// EOF to the caller.
func TestDeltaSurfacesReadError(t *testing.T) {
	ctx := context.Background()
	prior := bytes.Repeat([]byte{0x41}, 4096)
	blockSize := BlockSize(int64(len(prior)))
	checksums, err := GenerateChecksums(bytes.NewReader(prior), blockSize)
	assert.Ok(t, err)

	readErr := errors.New("simulated disk read error")
	src := &failAfterReader{data: prior[:len(prior)/2], err: readErr}

	ops, errc, err := GenerateDelta(ctx, src, blockSize, checksums)
	assert.Ok(t, err)
	for range ops {
	}
	got := <-errc
	assert.Cond(t, got != nil, "expected a non-nil error from a failed source read")
}

// TestBlockSizeBounds checks the sqrt-clamped-to-power-of-two rule.
func TestBlockSizeBounds(t *testing.T) {
	assert.Equals(t, uint32(MinBlockSize), BlockSize(0))
	assert.Equals(t, uint32(MinBlockSize), BlockSize(100))
	assert.Equals(t, uint32(MaxBlockSize), BlockSize(1<<34))     // sqrt(16GiB) == 128KiB, clamped down
	assert.Equals(t, uint32(MinBlockSize), BlockSize(1024*1024)) // sqrt(1MiB) == 1024, clamped up
}

func TestGenerateChecksumsEmptyReader(t *testing.T) {
	checksums, err := GenerateChecksums(bytes.NewReader(nil), MinBlockSize)
	assert.Ok(t, err)
	assert.Equals(t, 0, len(checksums))
}
