package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/hooklift/assert"
)

func writeTree(t *testing.T, root string) {
	t.Helper()
	assert.Ok(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644))
	assert.Ok(t, os.Mkdir(filepath.Join(root, "sub"), 0755))
	assert.Ok(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world"), 0644))
	assert.Ok(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("x"), 0644))
}

func collect(t *testing.T, root string, opts Options) []Entry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []Entry
	for e := range Scan(ctx, root, opts) {
		assert.Ok(t, e.Err)
		out = append(out, e)
	}
	return out
}

func TestScanOrdersParentsBeforeChildren(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	entries := collect(t, root, Options{})
	byPath := make(map[string]int, len(entries))
	for i, e := range entries {
		byPath[e.Path] = i
	}
	assert.Cond(t, byPath["sub"] < byPath["sub/b.txt"], "sub must be emitted before sub/b.txt")
}

func TestScanExcludesHiddenByDefault(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	entries := collect(t, root, Options{})
	for _, e := range entries {
		assert.Cond(t, e.Path != ".hidden", "hidden file must be excluded by default")
	}
}

func TestScanIncludesHiddenWhenRequested(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	entries := collect(t, root, Options{IncludeHidden: true})
	var found bool
	for _, e := range entries {
		if e.Path == ".hidden" {
			found = true
		}
	}
	assert.Cond(t, found, "hidden file must be included when requested")
}

func TestScanAppliesIgnoreRules(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	entries := collect(t, root, Options{IgnoreRules: []string{"*.txt"}})
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	sort.Strings(paths)
	assert.Equals(t, []string{"sub"}, paths)
}

func TestScanEmptyTree(t *testing.T) {
	root := t.TempDir()
	entries := collect(t, root, Options{})
	assert.Equals(t, 0, len(entries))
}
