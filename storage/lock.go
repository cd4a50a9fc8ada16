package storage

import (
	"errors"
	"path/filepath"

	"github.com/gofrs/flock"
)

// lockFileName is created in an fs storage root to hold the writer lock.
const lockFileName = ".wsfs.lock"

// lockRoot takes an exclusive, non-blocking lock on root. Two receivers
// writing the same root would interleave ledger snapshots.
func lockRoot(root string) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(root, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, wrap(err, "lock", root)
	}
	if !ok {
		return nil, &StorageError{
			Kind: ErrLocked,
			Op:   "lock",
			Path: root,
			Err:  errors.New("held by another process"),
		}
	}
	return fl, nil
}
