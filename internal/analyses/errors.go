package analyses

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrMissingLayer     = errors.New("analysis payload missing layer")
	ErrMalformedPayload = errors.New("analysis payload malformed")
)

// StorageError wraps a persistence failure. The upsert is a single statement,
// so a StorageError never implies a partial write.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return "storage " + e.Op
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
