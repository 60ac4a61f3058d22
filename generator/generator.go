// Package generator implements the sending side's diff: it consumes an
// already-populated destination index alongside a live source scan and
// decides, for every entry, what (if anything) the sender needs to ship.
package generator

import (
	"context"

	"github.com/nbsync/gosync/delta"
	"github.com/nbsync/gosync/destindex"
	"github.com/nbsync/gosync/scanner"
	"github.com/nbsync/gosync/wire"
)

// Job is one unit of work handed to the sender. Exactly one of the
// concrete types below is carried by a given Job value.
type Job interface {
	isJob()
}

// MkdirJob asks the sender to forward a directory creation.
type MkdirJob struct {
	Path string
	Mode uint32
}

// SymlinkJob asks the sender to forward a symlink creation.
type SymlinkJob struct {
	Path   string
	Target string
}

// HardlinkJob asks the sender to announce a hard link to a path already
// seen earlier in this same scan.
type HardlinkJob struct {
	Path       string
	LinkTarget string
}

// FileJob asks the sender to transfer a regular file, by delta if
// Checksums is non-empty, otherwise as a full copy.
type FileJob struct {
	Path      string
	Size      uint64
	Mtime     int64
	Mode      uint32
	Inode     uint64
	NeedDelta bool
	BlockSize uint32
	Checksums []wire.WireBlockChecksum
}

// DeleteJob asks the sender to forward a deletion of a path no longer
// present in the source.
type DeleteJob struct {
	Path  string
	IsDir bool
}

// FileEndJob closes the source file-entry stream with totals.
type FileEndJob struct {
	TotalFiles uint64
	TotalBytes uint64
}

// DeleteEndJob closes the deletion stream.
type DeleteEndJob struct {
	Count uint64
}

// ErrorJob reports a scan-time fault for a single path; the sync
// continues.
type ErrorJob struct {
	Path    string
	Message string
}

func (MkdirJob) isJob()     {}
func (SymlinkJob) isJob()   {}
func (HardlinkJob) isJob()  {}
func (FileJob) isJob()      {}
func (DeleteJob) isJob()    {}
func (FileEndJob) isJob()   {}
func (DeleteEndJob) isJob() {}
func (ErrorJob) isJob()     {}

// Options controls generator behavior.
type Options struct {
	DeleteEnabled bool
	WantChecksum  bool // forces full checksum-mode comparison, disabling the mtime/size/mode skip rule
}

// Run consumes a source scan and an already-populated destination index,
// and streams Jobs to the returned channel. It closes the channel once
// the scan is drained, FileEndJob has been emitted, and (if
// opts.DeleteEnabled) every remaining destination-index row has been
// turned into a DeleteJob followed by a DeleteEndJob.
func Run(ctx context.Context, entries <-chan scanner.Entry, idx *destindex.Index, opts Options) <-chan Job {
	out := make(chan Job, 64)

	go func() {
		defer close(out)

		seenInodes := make(map[uint64]string)
		var totalFiles, totalBytes uint64

		send := func(j Job) bool {
			select {
			case out <- j:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for entry := range entries {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if entry.Err != nil {
				if !send(ErrorJob{Path: entry.Path, Message: entry.Err.Error()}) {
					return
				}
				continue
			}

			switch entry.Kind {
			case scanner.KindDirectory:
				idx.Take(entry.Path)
				if !send(MkdirJob{Path: entry.Path, Mode: entry.Mode}) {
					return
				}

			case scanner.KindSymlink:
				idx.Take(entry.Path)
				if !send(SymlinkJob{Path: entry.Path, Target: entry.SymlinkTarget}) {
					return
				}

			case scanner.KindRegular:
				dest, hadRow := idx.Take(entry.Path)

				if entry.Inode != 0 {
					if prior, ok := seenInodes[entry.Inode]; ok {
						if !send(HardlinkJob{Path: entry.Path, LinkTarget: prior}) {
							return
						}
						continue
					}
					seenInodes[entry.Inode] = entry.Path
				}

				totalFiles++
				totalBytes += uint64(entry.Size)

				job := decideFileJob(entry, dest, hadRow, opts)
				if job == nil {
					continue // skip rule: idempotent, nothing to send
				}
				if !send(*job) {
					return
				}
			}
		}

		if !send(FileEndJob{TotalFiles: totalFiles, TotalBytes: totalBytes}) {
			return
		}

		if !opts.DeleteEnabled {
			return
		}

		var count uint64
		var aborted bool
		idx.Remaining(func(path string, s destindex.State) {
			if aborted {
				return
			}
			if !send(DeleteJob{Path: path, IsDir: s.IsDir}) {
				aborted = true
				return
			}
			count++
		})
		if aborted {
			return
		}
		send(DeleteEndJob{Count: count})
	}()

	return out
}

func decideFileJob(entry scanner.Entry, dest destindex.State, hadRow bool, opts Options) *FileJob {
	full := &FileJob{
		Path: entry.Path, Size: uint64(entry.Size), Mtime: entry.Mtime,
		Mode: entry.Mode, Inode: entry.Inode, NeedDelta: false,
	}

	if hadRow && !opts.WantChecksum &&
		dest.Size == uint64(entry.Size) && dest.Mtime == entry.Mtime && dest.Mode == entry.Mode {
		return nil // skip rule: destination already matches
	}

	if !hadRow || uint64(entry.Size) != dest.Size || !dest.HasChecksums() || entry.Size < delta.MinSizeForDelta {
		return full
	}

	full.NeedDelta = true
	full.BlockSize = dest.BlockSize
	full.Checksums = dest.Checksums
	return full
}
