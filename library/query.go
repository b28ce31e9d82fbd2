package library

import (
	"context"
	"fmt"
	"strings"
)

// Queries builds read views over the store. It never writes.
type Queries struct {
	store Store
}

// NewQueries creates a query service over store.
func NewQueries(store Store) *Queries {
	return &Queries{store: store}
}

// ListForUser returns every record of the user across titles, most recent
// borrow first. A user without records gets an empty slice.
func (q *Queries) ListForUser(ctx context.Context, userID string) ([]BorrowingView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	views, err := q.store.Borrowings(ctx, BorrowingQuery{
		UserID: userID,
		Sort:   Sort{Field: SortByBorrowDate, Order: Descending},
	})
	if err != nil {
		return nil, err
	}
	if views == nil {
		views = []BorrowingView{}
	}
	return views, nil
}

// ListAll returns records across all users for administrative views.
func (q *Queries) ListAll(ctx context.Context, f Filter, s Sort) ([]BorrowingView, error) {
	s = s.normalized()
	if err := s.validate(); err != nil {
		return nil, err
	}
	if err := f.validate(); err != nil {
		return nil, err
	}

	views, err := q.store.Borrowings(ctx, BorrowingQuery{Filter: f, Sort: s})
	if err != nil {
		return nil, err
	}
	if views == nil {
		views = []BorrowingView{}
	}
	return views, nil
}

// BorrowStatus reports the user's standing with one title: the active record
// if there is one, otherwise the most recent.
func (q *Queries) BorrowStatus(ctx context.Context, titleID, userID string) (StatusView, error) {
	if strings.TrimSpace(userID) == "" {
		return StatusView{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	t, err := q.store.GetTitle(ctx, titleID)
	if err != nil {
		return StatusView{}, err
	}

	sv := StatusView{RemainingCopies: t.AvailableCopies}
	if rec, ok := t.LatestRecordFor(userID); ok {
		sv.Status = rec.Status
		sv.BorrowingID = rec.ID
	}
	return sv, nil
}

// Title returns a title with its records.
func (q *Queries) Title(ctx context.Context, titleID string) (*Title, error) {
	return q.store.GetTitle(ctx, titleID)
}

// Titles lists the catalog without records.
func (q *Queries) Titles(ctx context.Context) ([]Title, error) {
	return q.store.Titles(ctx)
}
