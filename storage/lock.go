package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is created inside the data directory while a server owns it.
const LockFileName = "tyflo-push.lock"

// AcquireInstanceLock takes a non-blocking exclusive lock on the data
// directory so two server processes never share one state file.
// The caller releases it with Unlock.
func AcquireInstanceLock(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errors.New("another tyflo-push instance is already using " + dir)
	}
	return lock, nil
}
