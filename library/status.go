package library

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle stage of a borrowing record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusBorrowed Status = "borrowed"
	StatusReturned Status = "returned"
	StatusReceived Status = "received"
)

// nextStatus is the whole transition table: each stage has at most one successor.
var nextStatus = map[Status]Status{
	StatusPending:  StatusBorrowed,
	StatusBorrowed: StatusReturned,
	StatusReturned: StatusReceived,
}

// Statuses lists every stage in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusBorrowed, StatusReturned, StatusReceived}
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown borrowing status %q", ErrInvalidArgument, s)
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the four known stages.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusBorrowed, StatusReturned, StatusReceived:
		return true
	}
	return false
}

// Active reports whether the record still holds (or is about to hold) a copy
// on the user's behalf. A user may have one active record per title.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusBorrowed
}

// Closed reports whether the borrower's side of the loan is over.
func (s Status) Closed() bool {
	return s == StatusReturned || s == StatusReceived
}

// Terminal reports whether no further transition exists.
func (s Status) Terminal() bool {
	_, ok := nextStatus[s]
	return s.Valid() && !ok
}

// Next returns the only legal successor of s.
func (s Status) Next() (Status, bool) {
	n, ok := nextStatus[s]
	return n, ok
}

// CanTransitionTo reports whether target is the allowed successor of s.
func (s Status) CanTransitionTo(target Status) bool {
	n, ok := nextStatus[s]
	return ok && n == target
}

func (s Status) rank() int {
	all := Statuses()
	for i, st := range all {
		if st == s {
			return i
		}
	}
	return len(all)
}

// Transition moves rec to target. Entering returned stamps the return date;
// restock is true only when entering received, which puts the copy back on
// the shelf.
func Transition(rec BorrowingRecord, target Status, now time.Time) (BorrowingRecord, bool, error) {
	if !rec.Status.CanTransitionTo(target) {
		return rec, false, &TransitionError{RecordID: rec.ID, From: rec.Status, To: target}
	}

	rec.Status = target
	if target == StatusReturned {
		returned := now.UTC()
		rec.ReturnDate = &returned
	}
	return rec, target == StatusReceived, nil
}
