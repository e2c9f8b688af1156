package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vawter.tech/stopper"
)

func TestWatchDirectoryDebounces(t *testing.T) {
	dir := t.TempDir()
	sctx := stopper.WithContext(context.Background())
	defer func() {
		sctx.Stop(time.Second)
		_ = sctx.Wait()
	}()

	var calls atomic.Int32
	require.NoError(t, Watch(sctx, dir, 50*time.Millisecond, func() { calls.Add(1) }, nil))

	p := filepath.Join(dir, "web.yaml")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(p, []byte("programs: {}\n"), 0o644))
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// files without a config extension are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatchSingleFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "taskmaster.yaml")
	require.NoError(t, os.WriteFile(p, []byte("programs: {}\n"), 0o644))
	sctx := stopper.WithContext(context.Background())
	defer func() {
		sctx.Stop(time.Second)
		_ = sctx.Wait()
	}()

	var calls atomic.Int32
	require.NoError(t, Watch(sctx, p, 20*time.Millisecond, func() { calls.Add(1) }, nil))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())

	// replace by rename, the way editors save
	tmp := filepath.Join(dir, ".taskmaster.yaml.swp")
	require.NoError(t, os.WriteFile(tmp, []byte("programs: {}\n"), 0o644))
	require.NoError(t, os.Rename(tmp, p))
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatchMissingPath(t *testing.T) {
	sctx := stopper.WithContext(context.Background())
	defer sctx.Stop(0)
	err := Watch(sctx, filepath.Join(t.TempDir(), "nope"), 0, func() {}, nil)
	assert.Error(t, err)
}
