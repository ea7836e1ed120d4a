// SPDX-License-Identifier: MIT

package machines

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_InvalidatesOnExternalEdit(t *testing.T) {
	path := writeSeed(t, seedYAML)
	s := New(path)

	_, err := s.Get("alpha")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	w, err := WatchStore(ctx, s)
	require.NoError(t, err)
	defer func() {
		cancel()
		<-w.Done()
	}()

	edited := "machines:\n  - id: alpha\n    name: Edited\n"
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o600))

	// The watcher invalidates asynchronously; poll until the reload shows up.
	deadline := time.After(5 * time.Second)
	for {
		got, err := s.Get("alpha")
		require.NoError(t, err)
		if got["name"] == "Edited" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("store never picked up the external edit")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	s := New(writeSeed(t, seedYAML))

	ctx, cancel := context.WithCancel(context.Background())
	w, err := WatchStore(ctx, s)
	require.NoError(t, err)

	cancel()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchStore_MissingDirectory(t *testing.T) {
	s := New("/nonexistent-backhaul-dir/machines.yaml")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := WatchStore(ctx, s)
	assert.Error(t, err)
}
