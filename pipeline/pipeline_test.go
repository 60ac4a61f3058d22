package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hooklift/assert"

	"github.com/nbsync/gosync/receiver"
	"github.com/nbsync/gosync/stats"
)

func TestFreshCopyEndToEnd(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	assert.Ok(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	assert.Ok(t, os.WriteFile(filepath.Join(src, "sub", "a.txt"), []byte("hello, world"), 0644))

	a, b := DuplexPipe()
	fsys := receiver.NewLocalFS(dst)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	var srcErr, dstErr error
	go func() {
		defer wg.Done()
		_, srcErr = RunSource(ctx, a, src, Options{})
	}()
	go func() {
		defer wg.Done()
		_, dstErr = RunDestination(ctx, b, fsys, Options{})
	}()
	wg.Wait()

	assert.Ok(t, srcErr)
	assert.Ok(t, dstErr)

	got, err := os.ReadFile(filepath.Join(dst, "sub", "a.txt"))
	assert.Ok(t, err)
	assert.Equals(t, "hello, world", string(got))
}

func TestIdempotentResyncEndToEnd(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	content := []byte("same content, no transfer needed")
	assert.Ok(t, os.WriteFile(filepath.Join(src, "a.txt"), content, 0644))
	assert.Ok(t, os.WriteFile(filepath.Join(dst, "a.txt"), content, 0644))

	srcInfo, err := os.Stat(filepath.Join(src, "a.txt"))
	assert.Ok(t, err)
	assert.Ok(t, os.Chtimes(filepath.Join(dst, "a.txt"), srcInfo.ModTime(), srcInfo.ModTime()))

	a, b := DuplexPipe()
	fsys := receiver.NewLocalFS(dst)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	var srcErr, dstErr error
	var srcSummary stats.Summary
	go func() {
		defer wg.Done()
		srcSummary, srcErr = RunSource(ctx, a, src, Options{})
	}()
	go func() {
		defer wg.Done()
		_, dstErr = RunDestination(ctx, b, fsys, Options{})
	}()
	wg.Wait()

	assert.Ok(t, srcErr)
	assert.Ok(t, dstErr)
	assert.Equals(t, uint64(0), srcSummary.BytesTransferred)
}
