// Package scanner walks a directory tree and emits an ordered, lazy stream
// of file entries: parents before children, siblings in a stable order,
// without holding the whole tree in memory before the first entry is
// produced.
//
// The walk itself follows the same filepath.WalkDir plus channel-based
// producer shape n-backup's internal/agent.Scanner uses, generalized from
// its callback-per-entry style into a pull-style channel so it composes
// with the generator's own goroutine the way the teacher's Signatures/Sync
// functions hand back a channel instead of taking a callback.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// Kind identifies what an Entry represents. Hard-link detection is not the
// scanner's job — it only reports each entry's inode; the generator is the
// one that tracks which inodes it has already seen in this scan.
type Kind byte

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
)

// Entry is one file-system object discovered by a scan.
type Entry struct {
	Path          string // relative to the scan root, forward-slash separated
	Kind          Kind
	Size          int64
	Mtime         int64
	Mode          uint32
	Inode         uint64
	SymlinkTarget string

	// Err is set when this entry represents a failure to stat or read a
	// path rather than a real file-system object; Path names the failing
	// path and the other fields are zero.
	Err error
}

// Options controls what a scan includes.
type Options struct {
	IncludeHidden  bool
	FollowSymlinks bool
	IgnoreRules    []string // glob and gitignore-style patterns
}

// Scan walks root and streams entries on the returned channel in
// depth-first, parents-before-children order, closing it when the walk
// completes or ctx is cancelled. The caller must drain the channel to
// avoid leaking the walking goroutine.
func Scan(ctx context.Context, root string, opts Options) <-chan Entry {
	out := make(chan Entry, 64)

	go func() {
		defer close(out)

		root = filepath.Clean(root)
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			rel := relPath(root, path)

			if err != nil {
				if rel == "" {
					return errors.Wrap(err, "scanner: failed to stat scan root")
				}
				if !emit(ctx, out, Entry{Path: rel, Err: errors.Wrap(err, "scanner: stat failed")}) {
					return ctx.Err()
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if rel == "" {
				return nil // root itself is never emitted
			}

			base := d.Name()
			if !opts.IncludeHidden && strings.HasPrefix(base, ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if matchIgnoreRules(rel, d.IsDir(), opts.IgnoreRules) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			entry, convErr := toEntry(rel, path, d, opts)
			if convErr != nil {
				if !emit(ctx, out, Entry{Path: rel, Err: convErr}) {
					return ctx.Err()
				}
				return nil
			}

			if !emit(ctx, out, entry) {
				return ctx.Err()
			}
			return nil
		})

		if walkErr != nil && walkErr != context.Canceled {
			emit(ctx, out, Entry{Err: errors.Wrap(walkErr, "scanner: walk aborted")})
		}
	}()

	return out
}

// emit sends e on out, returning false if ctx was cancelled first.
func emit(ctx context.Context, out chan<- Entry, e Entry) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func toEntry(rel, path string, d fs.DirEntry, opts Options) (Entry, error) {
	if d.IsDir() {
		info, err := d.Info()
		if err != nil {
			return Entry{}, errors.Wrap(err, "scanner: dir info")
		}
		return Entry{Path: rel, Kind: KindDirectory, Mode: uint32(info.Mode().Perm()), Mtime: info.ModTime().Unix()}, nil
	}

	if d.Type()&fs.ModeSymlink != 0 {
		if !opts.FollowSymlinks {
			target, err := symlinkTarget(path)
			if err != nil {
				return Entry{}, errors.Wrap(err, "scanner: readlink")
			}
			if target == "" {
				return Entry{}, errors.New("scanner: symlink with empty target")
			}
			return Entry{Path: rel, Kind: KindSymlink, SymlinkTarget: target}, nil
		}
		// FollowSymlinks: resolve to the target's own stat info instead of
		// the link's, since fs.DirEntry.Info() lstats rather than stats.
		resolved, err := os.Stat(path)
		if err != nil {
			return Entry{}, errors.Wrap(err, "scanner: stat symlink target")
		}
		if resolved.IsDir() {
			return Entry{Path: rel, Kind: KindDirectory, Mode: uint32(resolved.Mode().Perm()), Mtime: resolved.ModTime().Unix()}, nil
		}
		if st, ok := resolved.Sys().(*syscall.Stat_t); ok {
			return Entry{Path: rel, Kind: KindRegular, Size: resolved.Size(), Mode: uint32(resolved.Mode().Perm()), Mtime: resolved.ModTime().Unix(), Inode: st.Ino}, nil
		}
		return Entry{Path: rel, Kind: KindRegular, Size: resolved.Size(), Mode: uint32(resolved.Mode().Perm()), Mtime: resolved.ModTime().Unix()}, nil
	}

	info, err := d.Info()
	if err != nil {
		return Entry{}, errors.Wrap(err, "scanner: file info")
	}

	e := Entry{
		Path:  rel,
		Kind:  KindRegular,
		Size:  info.Size(),
		Mode:  uint32(info.Mode().Perm()),
		Mtime: info.ModTime().Unix(),
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		e.Inode = st.Ino
	}
	return e, nil
}

func matchIgnoreRules(relPath string, isDir bool, rules []string) bool {
	base := filepath.Base(relPath)
	parts := strings.Split(relPath, "/")

	for _, pattern := range rules {
		if strings.HasSuffix(pattern, "/") {
			if !isDir {
				continue
			}
			dirPattern := strings.TrimSuffix(strings.TrimPrefix(pattern, "*/"), "/")
			for _, part := range parts {
				if matched, _ := filepath.Match(dirPattern, part); matched {
					return true
				}
			}
			continue
		}

		if strings.HasSuffix(pattern, "/**") {
			prefix := strings.TrimSuffix(pattern, "/**")
			for _, part := range parts {
				if matched, _ := filepath.Match(prefix, part); matched {
					return true
				}
			}
			continue
		}

		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
