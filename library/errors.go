package library

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a title or borrowing record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrOutOfStock is returned when a title has no copy left to lend.
	ErrOutOfStock = errors.New("no copies available")

	// ErrAlreadyBorrowed is returned when the user already has a pending or
	// borrowed record for the title. The concrete error is *AlreadyBorrowedError.
	ErrAlreadyBorrowed = errors.New("already borrowed")

	// ErrInvalidTransition is returned for a status change outside the
	// transition table. The concrete error is *TransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStorageUnavailable wraps every unexpected failure of the backing store.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidArgument is returned for malformed input such as an empty id.
	ErrInvalidArgument = errors.New("invalid argument")

	errConcurrentUpdate = errors.New("title counter changed during update")
)

// AlreadyBorrowedError names the record that blocks a new borrow request.
type AlreadyBorrowedError struct {
	TitleID  string
	UserID   string
	RecordID string
	Status   Status
}

func (e *AlreadyBorrowedError) Error() string {
	return fmt.Sprintf("user %s already has title %s %s", e.UserID, e.TitleID, e.Status)
}

func (e *AlreadyBorrowedError) Is(target error) bool { return target == ErrAlreadyBorrowed }

// TransitionError describes a rejected status change.
type TransitionError struct {
	RecordID string
	From     Status
	To       Status
}

func (e *TransitionError) Error() string {
	if e.From.Terminal() {
		return fmt.Sprintf("%s: record %s is %s and accepts no further changes", ErrInvalidTransition, e.RecordID, e.From)
	}
	return fmt.Sprintf("%s: record %s cannot go from %s to %s", ErrInvalidTransition, e.RecordID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// storageError marks err as a store failure unless it already carries one of
// the ledger's own kinds.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrNotFound, ErrOutOfStock, ErrAlreadyBorrowed, ErrInvalidTransition, ErrStorageUnavailable, ErrInvalidArgument} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}
