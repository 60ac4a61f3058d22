// Package legacy preserves the teacher repo's older, request/response-style
// checksum protocol, moved out of the flat repo root so it compiles as its
// own package instead of colliding with the streaming implementation this
// module actually builds on. It is historical reference only — nothing in
// the rest of this module imports it. See DESIGN.md.
package legacy

const (
	// DefaultBlockSize is the default block size the legacy protocol chunks
	// a file into.
	DefaultBlockSize = 1024 * 6
)

// Rolling checksum is up to 16 bit length for simplicity and speed.
const (
	rollingMod = 1 << 16
)

// rollingChecksum as defined in https://www.samba.org/~tridge/phd_thesis.pdf
func rollingChecksum(block []byte) uint32 {
	var a, b uint32
	l := len(block) - 1
	for i, k := range block {
		a += uint32(k)
		b += (uint32(l) - uint32(i) + 1) * uint32(k)
	}
	r1 := a % rollingMod
	r2 := b % rollingMod
	r := r1 + (rollingMod * r2)

	return r
}

// LegacyBlockChecksum contains file block checksums as specified in the
// rsync thesis.
type LegacyBlockChecksum struct {
	// Index is the block index.
	Index uint64
	// Strong refers to the expensive checksum; this protocol uses murmur3.
	Strong []byte
	// Weak refers to the fast rolling checksum.
	Weak uint32
	// Error reports a fault reading the file or calculating checksums.
	Error error
}

// LegacyBlockOperation represents one file reconstruction instruction.
type LegacyBlockOperation struct {
	// Index is the block index in the source file.
	Index uint64
	// IndexB is the block index to copy from the remote file, avoiding
	// network transmission.
	IndexB uint64
	// Data is the delta to be applied to the remote file. No data means the
	// client found a matching checksum for this block, so the remote end
	// copies the block data from its local copy instead.
	Data []byte
	// Error reports a fault while sending operations.
	Error error
}
