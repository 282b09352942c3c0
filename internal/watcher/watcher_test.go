package watcher_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/implindex/internal/watcher"
)

func jsOnly(_, path string) bool {
	return strings.HasSuffix(path, ".js")
}

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trait.Hash.js")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0644))

	w, err := watcher.New(watcher.Config{Root: dir, DebounceDur: 50 * time.Millisecond, Match: jsOnly})
	require.NoError(t, err, "failed to create watcher")
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err, "failed to start watcher")

	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("v%d", i)), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case batch := <-onChange:
		require.Equal(t, []string{path}, batch)
	case <-time.After(time.Second):
		t.Fatal("expected notification but got timeout")
	}

	select {
	case batch := <-onChange:
		t.Fatalf("unexpected second notification: %v", batch)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_IgnoresUnmatchedFiles(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("initial"), 0644))

	w, err := watcher.New(watcher.Config{Root: dir, DebounceDur: 30 * time.Millisecond, Match: jsOnly})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(other, []byte("changed"), 0644))

	select {
	case batch := <-onChange:
		t.Fatalf("unexpected notification: %v", batch)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	w, err := watcher.New(watcher.Config{Root: dir, DebounceDur: 50 * time.Millisecond, Match: jsOnly})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err)

	nested := filepath.Join(dir, "trait.impl", "core", "hash")
	require.NoError(t, os.MkdirAll(nested, 0755))
	path := filepath.Join(nested, "trait.Hash.js")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case batch := <-onChange:
			for _, p := range batch {
				if p == path {
					return
				}
			}
		case <-deadline:
			t.Fatal("new fragment in new directory was not reported")
		}
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := watcher.New(watcher.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	_, err = w.Start()
	require.NoError(t, err)
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
