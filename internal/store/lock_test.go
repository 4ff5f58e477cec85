//go:build unix

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLock_ExcludesSecondHolder(t *testing.T) {
	path := LockPath(filepath.Join(t.TempDir(), "data", "bank_state.json"))
	first, err := Lock(path)
	require.NoError(t, err)

	acquired := make(chan *FileLock)
	go func() {
		second, err := Lock(path)
		if err != nil {
			close(acquired)
			return
		}
		acquired <- second
	}()

	select {
	case <-acquired:
		t.Fatal("second holder got the lock while the first still holds it")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, first.Unlock())
	select {
	case second, ok := <-acquired:
		require.True(t, ok, "second Lock failed")
		require.NoError(t, second.Unlock())
	case <-time.After(5 * time.Second):
		t.Fatal("lock not handed over after Unlock")
	}
}

func TestUnlock_Twice(t *testing.T) {
	l, err := Lock(filepath.Join(t.TempDir(), "state.lock"))
	require.NoError(t, err)
	require.NoError(t, l.Unlock())
	require.NoError(t, l.Unlock())
}
