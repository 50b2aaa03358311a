package fleet

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateID       = errors.New("duplicate id")
	ErrNotFound          = errors.New("not found")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrPersistence       = errors.New("persistence failure")
)

// PersistenceError reports a failed durable write. In-memory state is left
// untouched whenever one is returned.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
