package library

import (
	"fmt"
	"time"
)

// Borrow appends a pending record for b and takes one copy off the shelf.
// The record id and dates are supplied by the caller so the aggregate stays
// deterministic.
func (t *Title) Borrow(id string, b Borrower, now time.Time, loanPeriod time.Duration) (BorrowingRecord, error) {
	if open, ok := t.activeRecordFor(b.ID); ok {
		return BorrowingRecord{}, &AlreadyBorrowedError{
			TitleID:  t.ID,
			UserID:   b.ID,
			RecordID: open.ID,
			Status:   open.Status,
		}
	}
	if t.AvailableCopies <= 0 {
		return BorrowingRecord{}, fmt.Errorf("%w: title %s", ErrOutOfStock, t.ID)
	}

	borrowed := now.UTC()
	rec := BorrowingRecord{
		ID:         id,
		UserID:     b.ID,
		UserName:   b.Name,
		UserEmail:  b.Email,
		Status:     StatusPending,
		BorrowDate: borrowed,
		DueDate:    borrowed.Add(loanPeriod),
	}
	t.Records = append(t.Records, rec)
	t.AvailableCopies--
	t.track(rec.ID, recordAppended)
	return rec, nil
}

// Advance applies a status transition to one of the title's records and
// restocks the shelf when the copy is received back.
func (t *Title) Advance(recordID string, target Status, now time.Time) (BorrowingRecord, error) {
	i := t.recordIndex(recordID)
	if i < 0 {
		return BorrowingRecord{}, notFound("borrowing record %s on title %s", recordID, t.ID)
	}

	rec, restock, err := Transition(t.Records[i], target, now)
	if err != nil {
		return BorrowingRecord{}, err
	}
	t.Records[i] = rec
	if restock {
		t.AvailableCopies++
	}
	t.track(rec.ID, recordUpdated)
	return rec, nil
}

// AdvanceForUser advances the user's most recent record that has not been
// received yet.
func (t *Title) AdvanceForUser(userID string, target Status, now time.Time) (BorrowingRecord, error) {
	for i := len(t.Records) - 1; i >= 0; i-- {
		rec := t.Records[i]
		if rec.UserID == userID && !rec.Status.Terminal() {
			return t.Advance(rec.ID, target, now)
		}
	}
	return BorrowingRecord{}, notFound("open borrowing for user %s on title %s", userID, t.ID)
}

// Restock adds newly acquired copies.
func (t *Title) Restock(copies int) error {
	if copies <= 0 {
		return fmt.Errorf("%w: restock needs a positive number of copies, got %d", ErrInvalidArgument, copies)
	}
	t.TotalCopies += copies
	t.AvailableCopies += copies
	return nil
}

// LatestRecordFor returns the user's active record, or failing that the most
// recent one.
func (t *Title) LatestRecordFor(userID string) (BorrowingRecord, bool) {
	if rec, ok := t.activeRecordFor(userID); ok {
		return rec, true
	}
	for i := len(t.Records) - 1; i >= 0; i-- {
		if t.Records[i].UserID == userID {
			return t.Records[i], true
		}
	}
	return BorrowingRecord{}, false
}

// Record looks up one record by id.
func (t *Title) Record(recordID string) (BorrowingRecord, bool) {
	if i := t.recordIndex(recordID); i >= 0 {
		return t.Records[i], true
	}
	return BorrowingRecord{}, false
}

// LentOut counts records whose copy is not back on the shelf.
func (t *Title) LentOut() int {
	n := 0
	for _, rec := range t.Records {
		if rec.Status != StatusReceived {
			n++
		}
	}
	return n
}

// Views flattens every record of the title.
func (t *Title) Views() []BorrowingView {
	views := make([]BorrowingView, 0, len(t.Records))
	for _, rec := range t.Records {
		views = append(views, t.view(rec))
	}
	return views
}

func (t *Title) view(rec BorrowingRecord) BorrowingView {
	return BorrowingView{
		TitleID: t.ID,
		Title:   t.Title,
		Author:  t.Author,
		Genre:   t.Genre,
		Record:  rec,
	}
}

func (t *Title) activeRecordFor(userID string) (BorrowingRecord, bool) {
	for _, rec := range t.Records {
		if rec.UserID == userID && rec.Status.Active() {
			return rec, true
		}
	}
	return BorrowingRecord{}, false
}

func (t *Title) recordIndex(recordID string) int {
	for i := range t.Records {
		if t.Records[i].ID == recordID {
			return i
		}
	}
	return -1
}

func (t *Title) track(recordID string, c recordChange) {
	if t.changes == nil {
		t.changes = make(map[string]recordChange)
	}
	if prev, ok := t.changes[recordID]; ok && prev == recordAppended {
		return
	}
	t.changes[recordID] = c
}

// markLoaded resets change tracking after a store has read the title.
func (t *Title) markLoaded() {
	t.loadedCopies = t.AvailableCopies
	t.changes = nil
}

// clone returns a deep copy safe to mutate without affecting t.
func (t *Title) clone() *Title {
	c := *t
	c.Records = append([]BorrowingRecord(nil), t.Records...)
	for i, rec := range c.Records {
		if rec.ReturnDate != nil {
			rd := *rec.ReturnDate
			c.Records[i].ReturnDate = &rd
		}
	}
	c.changes = nil
	return &c
}
