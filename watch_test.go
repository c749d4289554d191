package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string, existing bool, process func(ctx context.Context, path string) error) (context.CancelFunc, <-chan error) {
	t.Helper()
	cw, err := NewCaptureWatcher(dir, NewPatternMatcher([]string{"*.qmdl"}), 50*time.Millisecond,
		NewLogger(LogLevelError, false), process)
	require.NoError(t, err)
	cw.Existing = existing

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cw.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestCaptureWatcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.qmdl"), []byte{0x7e}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	processed := make(chan string, 10)
	cancel, done := startWatcher(t, dir, true, func(ctx context.Context, path string) error {
		processed <- path
		return nil
	})

	select {
	case path := <-processed:
		assert.Equal(t, filepath.Join(dir, "old.qmdl"), path)
	case <-time.After(5 * time.Second):
		t.Fatal("existing capture was not processed")
	}

	newPath := filepath.Join(dir, "new.qmdl")
	require.NoError(t, os.WriteFile(newPath, []byte{0x7e, 0x7e}, 0644))

	select {
	case path := <-processed:
		assert.Equal(t, newPath, path)
	case <-time.After(5 * time.Second):
		t.Fatal("new capture was not processed")
	}

	// each capture is processed once
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, processed)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestCaptureWatcherStopsOnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.qmdl"), nil, 0644))

	boom := errors.New("broken capture")
	_, done := startWatcher(t, dir, true, func(ctx context.Context, path string) error {
		return boom
	})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the error")
	}
}

func TestNewCaptureWatcherRequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "capture.qmdl")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	_, err := NewCaptureWatcher(file, nil, 0, NewLogger(LogLevelError, false), nil)
	assert.Error(t, err)

	_, err = NewCaptureWatcher(filepath.Join(t.TempDir(), "missing"), nil, 0, NewLogger(LogLevelError, false), nil)
	assert.Error(t, err)
}
