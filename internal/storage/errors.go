package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that a write targeted a document that does not exist.
var ErrNotFound = errors.New("document not found")

// DuplicateKeyError reports a uniqueness violation on insert.
type DuplicateKeyError struct {
	// Collection is the physical collection that rejected the write.
	Collection string

	// Descriptor names the semantic type whose write failed, when known.
	Descriptor string

	Err error
}

func (e *DuplicateKeyError) Error() string {
	if e.Descriptor != "" {
		return fmt.Sprintf("duplicate key in %s (%s)", e.Collection, e.Descriptor)
	}
	return fmt.Sprintf("duplicate key in %s", e.Collection)
}

func (e *DuplicateKeyError) Unwrap() error {
	return e.Err
}

// OptimisticLockError reports a conditional update whose expected version
// no longer matches the stored one.
type OptimisticLockError struct {
	Collection string
	ID         string
	Expected   int64
	Actual     int64
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock failure on %s %s: expected version %d, found %d",
		e.Collection, e.ID, e.Expected, e.Actual)
}

// IsDuplicateKey reports whether err is (or wraps) a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var de *DuplicateKeyError
	return errors.As(err, &de)
}

// IsOptimisticLock reports whether err is (or wraps) an OptimisticLockError.
func IsOptimisticLock(err error) bool {
	var oe *OptimisticLockError
	return errors.As(err, &oe)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
