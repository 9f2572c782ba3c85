package caging

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrDirectoryNotFound matches a DirectoryNotFoundError.
	ErrDirectoryNotFound = eris.New("caging: directory user not found")
	// ErrPersistence matches a PersistenceError.
	ErrPersistence = eris.New("caging: persistence failure")
	// ErrInvalidResult is returned by Apply for a malformed Result.
	ErrInvalidResult = eris.New("caging: invalid result")
)

// DirectoryNotFoundError reports a donor whose known identifier has no
// directory entry. It signals an upstream inconsistency, not an ambiguous
// match, and is not worth retrying.
type DirectoryNotFoundError struct {
	UserID int64
}

func (e *DirectoryNotFoundError) Error() string {
	return fmt.Sprintf("caging: directory user %d not found", e.UserID)
}

// Is makes errors.Is(err, ErrDirectoryNotFound) hold.
func (e *DirectoryNotFoundError) Is(target error) bool {
	return target == ErrDirectoryNotFound
}

// PersistenceError reports a failed unit of work. The transaction has been
// rolled back by the time the caller sees it.
type PersistenceError struct {
	Op            string
	QueuedDonorID int64
	Err           error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("caging: %s (queued donor %d): %v", e.Op, e.QueuedDonorID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrPersistence) hold.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
