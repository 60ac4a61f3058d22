// Package receiver applies a decoded wire stream to a destination
// filesystem: the initial exchange (describing what already exists) and
// the streaming phase (creating, updating, and deleting paths).
package receiver

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func modTime(unixSeconds int64) time.Time { return time.Unix(unixSeconds, 0) }

// Staging is a not-yet-visible destination file being written. Commit
// makes it visible at its final path atomically (via rename); Discard
// abandons it, leaving the destination untouched.
type Staging interface {
	io.Writer
	Commit(finalPath string, mode os.FileMode) error
	Discard() error
}

// FileSystem is everything the receiver needs from the destination tree.
// LocalFS is the implementation this package provides.
type FileSystem interface {
	Mkdir(path string, mode os.FileMode) error
	Symlink(path, target string) error
	Hardlink(path, existing string) error
	OpenOriginal(path string) (io.ReaderAt, func() error, error)
	CreateStaging(finalPath string) (Staging, error)
	SetMetadata(path string, mtime int64, mode os.FileMode) error
	SetXattr(path, name string, value []byte) error
	Remove(path string) error
	RemoveAll(path string) error
	Root() string
}

// LocalFS implements FileSystem against a real directory tree, staging
// writes alongside their final path and renaming into place once complete
// — the same atomic-replace discipline the teacher's Apply leaves to its
// caller, made explicit here since the receiver is the caller.
type LocalFS struct {
	root string
}

// NewLocalFS returns a FileSystem rooted at dir. dir must already exist.
func NewLocalFS(dir string) *LocalFS { return &LocalFS{root: dir} }

func (l *LocalFS) Root() string { return l.root }

func (l *LocalFS) abs(path string) string { return filepath.Join(l.root, path) }

func (l *LocalFS) Mkdir(path string, mode os.FileMode) error {
	if err := os.MkdirAll(l.abs(path), mode); err != nil {
		return errors.Wrapf(err, "receiver: mkdir %s", path)
	}
	return nil
}

func (l *LocalFS) Symlink(path, target string) error {
	abs := l.abs(path)
	_ = os.Remove(abs)
	if err := os.Symlink(target, abs); err != nil {
		return errors.Wrapf(err, "receiver: symlink %s -> %s", path, target)
	}
	return nil
}

func (l *LocalFS) Hardlink(path, existing string) error {
	abs := l.abs(path)
	_ = os.Remove(abs)
	if err := os.Link(l.abs(existing), abs); err != nil {
		return errors.Wrapf(err, "receiver: hardlink %s -> %s", path, existing)
	}
	return nil
}

func (l *LocalFS) OpenOriginal(path string) (io.ReaderAt, func() error, error) {
	f, err := os.Open(l.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return emptyReaderAt{}, func() error { return nil }, nil
		}
		return nil, nil, errors.Wrapf(err, "receiver: opening original %s", path)
	}
	return f, f.Close, nil
}

type emptyReaderAt struct{}

func (emptyReaderAt) ReadAt(p []byte, off int64) (int, error) { return 0, io.EOF }

// localStaging writes to a uuid-named sibling file and renames it over
// finalPath on Commit, so a reader of finalPath never observes a partial
// write.
type localStaging struct {
	root string
	f    *os.File
}

func (l *LocalFS) CreateStaging(finalPath string) (Staging, error) {
	dir := filepath.Dir(l.abs(finalPath))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "receiver: preparing directory for %s", finalPath)
	}
	name := filepath.Join(dir, "."+filepath.Base(finalPath)+".gosync-"+uuid.New().String())
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "receiver: creating staging file for %s", finalPath)
	}
	return &localStaging{root: l.root, f: f}, nil
}

func (s *localStaging) Write(p []byte) (int, error) { return s.f.Write(p) }

func (s *localStaging) Commit(finalPath string, mode os.FileMode) error {
	name := s.f.Name()
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		os.Remove(name)
		return errors.Wrap(err, "receiver: syncing staging file")
	}
	if err := s.f.Close(); err != nil {
		os.Remove(name)
		return errors.Wrap(err, "receiver: closing staging file")
	}
	if err := os.Chmod(name, mode); err != nil {
		os.Remove(name)
		return errors.Wrap(err, "receiver: setting mode before commit")
	}
	dst := filepath.Join(s.root, finalPath)
	if err := os.Rename(name, dst); err != nil {
		os.Remove(name)
		return errors.Wrapf(err, "receiver: committing %s", finalPath)
	}
	return nil
}

func (s *localStaging) Discard() error {
	name := s.f.Name()
	s.f.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "receiver: discarding staging file")
	}
	return nil
}

func (l *LocalFS) SetMetadata(path string, mtime int64, mode os.FileMode) error {
	abs := l.abs(path)
	if err := os.Chmod(abs, mode); err != nil {
		return errors.Wrapf(err, "receiver: chmod %s", path)
	}
	t := modTime(mtime)
	if err := os.Chtimes(abs, t, t); err != nil {
		return errors.Wrapf(err, "receiver: chtimes %s", path)
	}
	return nil
}

// SetXattr is a safe no-op on LocalFS: extended attributes are a
// feature-gated, optional capability (FlagWantXattrs), and none of the
// filesystems this adapter targets by default need more than "accepted,
// not enforced." A platform-specific FileSystem implementation can
// override this with a real syscall.Setxattr call.
func (l *LocalFS) SetXattr(path, name string, value []byte) error { return nil }

func (l *LocalFS) Remove(path string) error {
	if err := os.Remove(l.abs(path)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "receiver: removing %s", path)
	}
	return nil
}

func (l *LocalFS) RemoveAll(path string) error {
	if err := os.RemoveAll(l.abs(path)); err != nil {
		return errors.Wrapf(err, "receiver: removing tree %s", path)
	}
	return nil
}
