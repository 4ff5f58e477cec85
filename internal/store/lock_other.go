//go:build !unix

package store

import "errors"

// FileLock is unsupported on this platform; Lock always fails.
type FileLock struct{}

func LockPath(statePath string) string {
	return statePath + ".lock"
}

func Lock(path string) (*FileLock, error) {
	return nil, errors.New("state file locking is not supported on this platform")
}

func (l *FileLock) Unlock() error { return nil }
