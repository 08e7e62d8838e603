package main

import (
	"fmt"

	"github.com/gofrs/flock"

	"ferry/internal/config"
)

// acquireRunLock keeps a second upload or delete from running against the
// same state directory.
func acquireRunLock(cfg *config.Config) (*flock.Flock, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another ferry run is active (lock held on %s)", cfg.LockPath())
	}
	return lock, nil
}
