package wire

import "github.com/pkg/errors"

// Hello flags (bit field). Higher bits are reserved and must be zero; a
// peer that sets one is rejected during the handshake.
const (
	FlagIsPull uint32 = 1 << iota
	FlagWantDelete
	FlagWantChecksum
	FlagWantCompression
	FlagWantXattrs
	FlagWantACLs
)

const knownHelloFlags = FlagIsPull | FlagWantDelete | FlagWantChecksum |
	FlagWantCompression | FlagWantXattrs | FlagWantACLs

// FileEntry kind tags, carried in the flags byte's low bits.
const (
	KindRegular byte = iota
	KindDirectory
	KindSymlink
	KindHardlink
)

// Data frame flags (bit field).
const (
	DataFlagCompressed uint8 = 1 << iota
	DataFlagDelta
	DataFlagFinal
)

// Hello is exchanged by both peers at the start of a sync to negotiate
// protocol version and capability flags.
type Hello struct {
	Version  uint16
	Flags    uint32
	RootPath string
}

func (m Hello) encode(e *encBuf) {
	e.u16(m.Version)
	e.u32(m.Flags)
	e.str(m.RootPath)
}

func decodeHello(d *decBuf) (Hello, error) {
	var m Hello
	var err error
	if m.Version, err = d.u16(); err != nil {
		return m, err
	}
	if m.Flags, err = d.u32(); err != nil {
		return m, err
	}
	if m.RootPath, err = d.str(); err != nil {
		return m, err
	}
	if m.Flags&^knownHelloFlags != 0 {
		return m, errors.New("wire: hello sets a reserved flag bit")
	}
	return m, nil
}

// FileEntry announces a source entry: a regular file, directory, symlink,
// or a hard link to an inode already seen earlier in the same scan.
type FileEntry struct {
	Path          string
	Size          uint64
	Mtime         int64
	Mode          uint32
	Inode         uint64
	Kind          byte
	SymlinkTarget string // present iff Kind == KindSymlink
	LinkTarget    string // present iff Kind == KindHardlink
}

func (m FileEntry) encode(e *encBuf) {
	e.str(m.Path)
	e.u64(m.Size)
	e.i64(m.Mtime)
	e.u32(m.Mode)
	e.u64(m.Inode)
	e.u8(m.Kind)
	if m.Kind == KindSymlink {
		e.str(m.SymlinkTarget)
	}
	if m.Kind == KindHardlink {
		e.str(m.LinkTarget)
	}
}

func decodeFileEntry(d *decBuf) (FileEntry, error) {
	var m FileEntry
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Size, err = d.u64(); err != nil {
		return m, err
	}
	if m.Mtime, err = d.i64(); err != nil {
		return m, err
	}
	if m.Mode, err = d.u32(); err != nil {
		return m, err
	}
	if m.Inode, err = d.u64(); err != nil {
		return m, err
	}
	if m.Kind, err = d.u8(); err != nil {
		return m, err
	}
	switch m.Kind {
	case KindSymlink:
		if m.SymlinkTarget, err = d.str(); err != nil {
			return m, err
		}
	case KindHardlink:
		if m.LinkTarget, err = d.str(); err != nil {
			return m, err
		}
	}
	return m, nil
}

// FileEnd closes the source file-entry stream with running totals.
type FileEnd struct {
	TotalFiles uint64
	TotalBytes uint64
}

func (m FileEnd) encode(e *encBuf) {
	e.u64(m.TotalFiles)
	e.u64(m.TotalBytes)
}

func decodeFileEnd(d *decBuf) (FileEnd, error) {
	var m FileEnd
	var err error
	if m.TotalFiles, err = d.u64(); err != nil {
		return m, err
	}
	if m.TotalBytes, err = d.u64(); err != nil {
		return m, err
	}
	return m, nil
}

// WireBlockChecksum is one block's weak+strong checksum pair as it travels
// inside a DestFileEntry payload.
type WireBlockChecksum struct {
	Offset uint64
	Weak   uint32
	Strong []byte
}

// DestFileEntry announces one existing destination entry during the
// initial exchange. BlockSize/Checksums are present only when the
// destination decided the file is delta-eligible.
type DestFileEntry struct {
	Path      string
	Size      uint64
	Mtime     int64
	Mode      uint32
	Flags     byte
	BlockSize uint32
	Checksums []WireBlockChecksum
}

// DestFileEntry flag bits.
const DestFlagHasChecksums byte = 1 << 0

func (m DestFileEntry) encode(e *encBuf) {
	e.str(m.Path)
	e.u64(m.Size)
	e.i64(m.Mtime)
	e.u32(m.Mode)
	e.u8(m.Flags)
	if m.Flags&DestFlagHasChecksums != 0 {
		e.u32(m.BlockSize)
		e.u32(uint32(len(m.Checksums)))
		for _, c := range m.Checksums {
			e.u64(c.Offset)
			e.u32(c.Weak)
			e.raw(c.Strong)
		}
	}
}

func decodeDestFileEntry(d *decBuf) (DestFileEntry, error) {
	var m DestFileEntry
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Size, err = d.u64(); err != nil {
		return m, err
	}
	if m.Mtime, err = d.i64(); err != nil {
		return m, err
	}
	if m.Mode, err = d.u32(); err != nil {
		return m, err
	}
	if m.Flags, err = d.u8(); err != nil {
		return m, err
	}
	if m.Flags&DestFlagHasChecksums == 0 {
		return m, nil
	}
	if m.BlockSize, err = d.u32(); err != nil {
		return m, err
	}
	count, err := d.u32()
	if err != nil {
		return m, err
	}
	m.Checksums = make([]WireBlockChecksum, count)
	for i := range m.Checksums {
		if m.Checksums[i].Offset, err = d.u64(); err != nil {
			return m, err
		}
		if m.Checksums[i].Weak, err = d.u32(); err != nil {
			return m, err
		}
		if m.Checksums[i].Strong, err = d.raw(); err != nil {
			return m, err
		}
	}
	return m, nil
}

// DestFileEnd closes the initial-exchange stream.
type DestFileEnd struct {
	TotalFiles uint64
	TotalBytes uint64
}

func (m DestFileEnd) encode(e *encBuf) {
	e.u64(m.TotalFiles)
	e.u64(m.TotalBytes)
}

func decodeDestFileEnd(d *decBuf) (DestFileEnd, error) {
	var m DestFileEnd
	var err error
	if m.TotalFiles, err = d.u64(); err != nil {
		return m, err
	}
	if m.TotalBytes, err = d.u64(); err != nil {
		return m, err
	}
	return m, nil
}

// Data carries one chunk of file content: either a raw slice (full-copy
// transfer) or a serialized delta op-list (Flags&DataFlagDelta set).
type Data struct {
	Path   string
	Offset uint64
	Flags  uint8
	Bytes  []byte
}

func (m Data) encode(e *encBuf) {
	e.str(m.Path)
	e.u64(m.Offset)
	e.u8(m.Flags)
	e.raw(m.Bytes)
}

func decodeData(d *decBuf) (Data, error) {
	var m Data
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Offset, err = d.u64(); err != nil {
		return m, err
	}
	if m.Flags, err = d.u8(); err != nil {
		return m, err
	}
	if m.Bytes, err = d.raw(); err != nil {
		return m, err
	}
	return m, nil
}

// DataEnd status codes.
const (
	StatusOK byte = iota
	StatusErr
)

// DataEnd finalizes one path's Data stream.
type DataEnd struct {
	Path   string
	Status byte
}

func (m DataEnd) encode(e *encBuf) {
	e.str(m.Path)
	e.u8(m.Status)
}

func decodeDataEnd(d *decBuf) (DataEnd, error) {
	var m DataEnd
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Status, err = d.u8(); err != nil {
		return m, err
	}
	return m, nil
}

// Delete removes a destination path no longer present in the source.
type Delete struct {
	Path  string
	IsDir bool
}

func (m Delete) encode(e *encBuf) {
	e.str(m.Path)
	var b uint8
	if m.IsDir {
		b = 1
	}
	e.u8(b)
}

func decodeDelete(d *decBuf) (Delete, error) {
	var m Delete
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	b, err := d.u8()
	if err != nil {
		return m, err
	}
	m.IsDir = b != 0
	return m, nil
}

// DeleteEnd closes the deletion stream.
type DeleteEnd struct {
	Count uint64
}

func (m DeleteEnd) encode(e *encBuf) { e.u64(m.Count) }

func decodeDeleteEnd(d *decBuf) (DeleteEnd, error) {
	v, err := d.u64()
	return DeleteEnd{Count: v}, err
}

// Mkdir creates (or ensures) a destination directory.
type Mkdir struct {
	Path string
	Mode uint32
}

func (m Mkdir) encode(e *encBuf) {
	e.str(m.Path)
	e.u32(m.Mode)
}

func decodeMkdir(d *decBuf) (Mkdir, error) {
	var m Mkdir
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Mode, err = d.u32(); err != nil {
		return m, err
	}
	return m, nil
}

// Symlink creates a destination symlink.
type Symlink struct {
	Path   string
	Target string
}

func (m Symlink) encode(e *encBuf) {
	e.str(m.Path)
	e.str(m.Target)
}

func decodeSymlink(d *decBuf) (Symlink, error) {
	var m Symlink
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Target, err = d.str(); err != nil {
		return m, err
	}
	return m, nil
}

// XattrEntry is one extended attribute name/value pair.
type XattrEntry struct {
	Name  string
	Value []byte
}

// Xattr carries a path's extended attributes, applied to the finalized
// path or buffered if the file is still pending.
type Xattr struct {
	Path    string
	Entries []XattrEntry
}

func (m Xattr) encode(e *encBuf) {
	e.str(m.Path)
	e.u16(uint16(len(m.Entries)))
	for _, x := range m.Entries {
		e.str(x.Name)
		e.raw(x.Value)
	}
}

func decodeXattr(d *decBuf) (Xattr, error) {
	var m Xattr
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	count, err := d.u16()
	if err != nil {
		return m, err
	}
	m.Entries = make([]XattrEntry, count)
	for i := range m.Entries {
		if m.Entries[i].Name, err = d.str(); err != nil {
			return m, err
		}
		if m.Entries[i].Value, err = d.raw(); err != nil {
			return m, err
		}
	}
	return m, nil
}

// Error reports a per-file fault; the sync continues.
type Error struct {
	Path    string
	Code    uint16
	Message string
}

func (m Error) encode(e *encBuf) {
	e.str(m.Path)
	e.u16(m.Code)
	e.str(m.Message)
}

func decodeError(d *decBuf) (Error, error) {
	var m Error
	var err error
	if m.Path, err = d.str(); err != nil {
		return m, err
	}
	if m.Code, err = d.u16(); err != nil {
		return m, err
	}
	if m.Message, err = d.str(); err != nil {
		return m, err
	}
	return m, nil
}

// Fatal codes. Additional values may be added for host-specific faults.
// Of these four, the pipeline package sends FatalCodeProtocol and
// FatalCodeVersionMismatch; nothing in this module sends the other two.
const (
	FatalCodeProtocol uint16 = iota + 1
	FatalCodeCancelled
	FatalCodeTimeout
	FatalCodeVersionMismatch
)

// Fatal aborts the sync; either peer may send it.
type Fatal struct {
	Code    uint16
	Message string
}

func (m Fatal) encode(e *encBuf) {
	e.u16(m.Code)
	e.str(m.Message)
}

func decodeFatal(d *decBuf) (Fatal, error) {
	var m Fatal
	var err error
	if m.Code, err = d.u16(); err != nil {
		return m, err
	}
	if m.Message, err = d.str(); err != nil {
		return m, err
	}
	return m, nil
}

// Done is the receiver's final summary frame.
type Done struct {
	FilesOK    uint64
	FilesErr   uint64
	Bytes      uint64
	DurationMs uint64
}

func (m Done) encode(e *encBuf) {
	e.u64(m.FilesOK)
	e.u64(m.FilesErr)
	e.u64(m.Bytes)
	e.u64(m.DurationMs)
}

func decodeDone(d *decBuf) (Done, error) {
	var m Done
	var err error
	if m.FilesOK, err = d.u64(); err != nil {
		return m, err
	}
	if m.FilesErr, err = d.u64(); err != nil {
		return m, err
	}
	if m.Bytes, err = d.u64(); err != nil {
		return m, err
	}
	if m.DurationMs, err = d.u64(); err != nil {
		return m, err
	}
	return m, nil
}
