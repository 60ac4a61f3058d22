package wire

import (
	"bytes"
	"testing"

	"github.com/hooklift/assert"
)

// roundTrip covers testable property #5, decode(encode(M)) == M; the tests
// below apply it to Hello, FileEntry, DestFileEntry, Data and Done.
func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	assert.Ok(t, enc.Encode(m))

	dec := NewDecoder(&buf)
	got, err := dec.Decode()
	assert.Ok(t, err)
	return got
}

func TestRoundTripHello(t *testing.T) {
	in := Hello{Version: ProtocolVersion, Flags: FlagWantDelete | FlagWantCompression, RootPath: "/srv/data"}
	out := roundTrip(t, in).(Hello)
	assert.Equals(t, in, out)
}

func TestRoundTripFileEntryRegular(t *testing.T) {
	in := FileEntry{Path: "a/b.txt", Size: 42, Mtime: 1700000000, Mode: 0644, Inode: 7, Kind: KindRegular}
	out := roundTrip(t, in).(FileEntry)
	assert.Equals(t, in, out)
}

func TestRoundTripFileEntrySymlink(t *testing.T) {
	in := FileEntry{Path: "link", Kind: KindSymlink, SymlinkTarget: "target"}
	out := roundTrip(t, in).(FileEntry)
	assert.Equals(t, in, out)
}

func TestRoundTripFileEntryNonASCIIPath(t *testing.T) {
	in := FileEntry{Path: "café/日本語.txt", Size: 3, Kind: KindRegular}
	out := roundTrip(t, in).(FileEntry)
	assert.Equals(t, in, out)
}

func TestRoundTripDestFileEntryWithChecksums(t *testing.T) {
	in := DestFileEntry{
		Path:      "big.bin",
		Size:      1 << 20,
		Mtime:     123,
		Mode:      0644,
		Flags:     DestFlagHasChecksums,
		BlockSize: 1024,
		Checksums: []WireBlockChecksum{
			{Offset: 0, Weak: 111, Strong: []byte{1, 2, 3}},
			{Offset: 1024, Weak: 222, Strong: []byte{4, 5, 6}},
		},
	}
	out := roundTrip(t, in).(DestFileEntry)
	assert.Equals(t, in, out)
}

func TestRoundTripData(t *testing.T) {
	in := Data{Path: "a.txt", Offset: 0, Flags: 0, Bytes: []byte("hello")}
	out := roundTrip(t, in).(Data)
	assert.Equals(t, in, out)
}

func TestRoundTripDone(t *testing.T) {
	in := Done{FilesOK: 2, FilesErr: 0, Bytes: 10, DurationMs: 5}
	out := roundTrip(t, in).(Done)
	assert.Equals(t, in, out)
}

func TestDeltaOpsRoundTrip(t *testing.T) {
	ops := []DeltaOp{
		OpCopy{Offset: 0, Length: 499712},
		OpLiteral{Bytes: []byte{0x41, 0x42, 0x41}},
		OpCopy{Offset: 500000, Length: 523288},
	}
	payload, err := EncodeDeltaOps(ops)
	assert.Ok(t, err)

	got, err := DecodeDeltaOps(payload)
	assert.Ok(t, err)
	assert.Equals(t, ops, got)
}

func TestFrameTooLargeRejected(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, TypeData, make([]byte, MaxFrameSize+1))
	assert.Cond(t, err != nil, "expected frame-too-large error")
}

func TestTruncatedFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	assert.Ok(t, WriteFrame(&buf, TypeDone, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	truncated := buf.Bytes()[:buf.Len()-3]

	dec := NewDecoder(bytes.NewReader(truncated))
	_, err := dec.Decode()
	assert.Cond(t, err != nil, "expected truncated-frame error")
}

func TestUnknownMessageTypeRejected(t *testing.T) {
	var buf bytes.Buffer
	assert.Ok(t, WriteFrame(&buf, 0xEE, nil))

	dec := NewDecoder(&buf)
	_, err := dec.Decode()
	assert.Cond(t, err != nil, "expected unknown-type error")
}

func TestHelloRejectsReservedFlag(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	assert.Ok(t, enc.Encode(Hello{Version: ProtocolVersion, Flags: 1 << 30, RootPath: "/"}))

	dec := NewDecoder(&buf)
	_, err := dec.Decode()
	assert.Cond(t, err != nil, "expected reserved-flag rejection")
}
