package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultLoanPeriod is how long a copy may be kept before it is due.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// Ledger is the only writer of copy counters and borrowing records. Every
// operation is one Store.UpdateTitle call, so the availability check and the
// counter change commit together.
type Ledger struct {
	store      Store
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	loanPeriod time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger for ledger events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator replaces the UUID generator used for new records and titles.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) {
		if newID != nil {
			l.newID = newID
		}
	}
}

// WithLoanPeriod sets the span between borrow and due date.
func WithLoanPeriod(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.loanPeriod = d
		}
	}
}

// NewLedger creates a ledger over store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		logger:     slog.Default(),
		now:        time.Now,
		newID:      uuid.NewString,
		loanPeriod: DefaultLoanPeriod,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// timestamp is truncated to microseconds, the finest resolution every store keeps.
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

// RequestBorrow creates a pending record for the borrower and takes one copy
// off the shelf. A failed request leaves the counter untouched.
func (l *Ledger) RequestBorrow(ctx context.Context, titleID string, b Borrower) (BorrowingRecord, error) {
	if strings.TrimSpace(titleID) == "" || strings.TrimSpace(b.ID) == "" {
		return BorrowingRecord{}, fmt.Errorf("%w: title id and user id are required", ErrInvalidArgument)
	}

	var rec BorrowingRecord
	now := l.timestamp()
	t, err := l.store.UpdateTitle(ctx, titleID, func(t *Title) error {
		var err error
		rec, err = t.Borrow(l.newID(), b, now, l.loanPeriod)
		return err
	})
	if err != nil {
		l.logRejection("borrow rejected", err, "title_id", titleID, "user_id", b.ID)
		return BorrowingRecord{}, err
	}

	l.logger.Info("borrow requested",
		"title_id", titleID,
		"record_id", rec.ID,
		"user_id", rec.UserID,
		"available_copies", t.AvailableCopies,
	)
	return rec, nil
}

// ApplyTransition moves one record of a title to target, restocking the title
// when the copy is received back.
func (l *Ledger) ApplyTransition(ctx context.Context, titleID, recordID string, target Status) (TransitionResult, error) {
	return l.transition(ctx, titleID, target, "record_id", recordID, func(t *Title, now time.Time) (BorrowingRecord, error) {
		return t.Advance(recordID, target, now)
	})
}

// ApplyTransitionByRecord is ApplyTransition for callers that only know the
// record id. Record ids are unique across titles.
func (l *Ledger) ApplyTransitionByRecord(ctx context.Context, recordID string, target Status) (TransitionResult, error) {
	titleID, err := l.store.TitleIDForRecord(ctx, recordID)
	if err != nil {
		return TransitionResult{}, err
	}
	return l.ApplyTransition(ctx, titleID, recordID, target)
}

// AdvanceForUser transitions the user's latest record on the title that has
// not reached received.
func (l *Ledger) AdvanceForUser(ctx context.Context, titleID, userID string, target Status) (TransitionResult, error) {
	return l.transition(ctx, titleID, target, "user_id", userID, func(t *Title, now time.Time) (BorrowingRecord, error) {
		return t.AdvanceForUser(userID, target, now)
	})
}

// transition runs apply under the title's lock. Unknown targets are rejected
// by the state machine once the record is resolved, so a missing title or
// record still reports NotFound.
func (l *Ledger) transition(ctx context.Context, titleID string, target Status, key, id string, apply func(*Title, time.Time) (BorrowingRecord, error)) (TransitionResult, error) {
	var rec BorrowingRecord
	now := l.timestamp()
	t, err := l.store.UpdateTitle(ctx, titleID, func(t *Title) error {
		var err error
		rec, err = apply(t, now)
		return err
	})
	if err != nil {
		l.logRejection("transition rejected", err, "title_id", titleID, key, id, "target", target)
		return TransitionResult{}, err
	}

	l.logger.Info("borrowing status changed",
		"title_id", titleID,
		"record_id", rec.ID,
		"status", rec.Status,
		"available_copies", t.AvailableCopies,
	)
	return TransitionResult{TitleID: titleID, Record: rec, AvailableCopies: t.AvailableCopies}, nil
}

// AddTitle registers a title with copies on the shelf. An empty id gets a UUID.
func (l *Ledger) AddTitle(ctx context.Context, info TitleInfo, copies int) (*Title, error) {
	if copies < 0 {
		return nil, fmt.Errorf("%w: copies must not be negative", ErrInvalidArgument)
	}
	if strings.TrimSpace(info.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	if info.ID == "" {
		info.ID = l.newID()
	}

	t := &Title{
		ID:              info.ID,
		Title:           info.Title,
		Author:          info.Author,
		Genre:           info.Genre,
		TotalCopies:     copies,
		AvailableCopies: copies,
	}
	if err := l.store.CreateTitle(ctx, t); err != nil {
		return nil, err
	}
	l.logger.Info("title added", "title_id", t.ID, "copies", copies)
	return t, nil
}

// Restock records newly acquired copies of a title.
func (l *Ledger) Restock(ctx context.Context, titleID string, copies int) (*Title, error) {
	t, err := l.store.UpdateTitle(ctx, titleID, func(t *Title) error {
		return t.Restock(copies)
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("title restocked", "title_id", titleID, "added", copies, "available_copies", t.AvailableCopies)
	return t, nil
}

func (l *Ledger) logRejection(msg string, err error, args ...any) {
	args = append(args, "error", err)
	if errors.Is(err, ErrStorageUnavailable) {
		l.logger.Error(msg, args...)
		return
	}
	l.logger.Debug(msg, args...)
}
