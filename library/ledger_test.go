package library

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerTitleXScenario(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newFakeClock()
		l := newTestLedger(store, WithClock(clock.Now))
		seedTitle(t, l, "X", "Title X", 2)

		a, err := l.RequestBorrow(ctx, "X", Borrower{ID: "A", Name: "Alice"})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, a.Status)
		assertAvailable(t, store, "X", 1)

		_, err = l.RequestBorrow(ctx, "X", Borrower{ID: "A", Name: "Alice"})
		require.ErrorIs(t, err, ErrAlreadyBorrowed)
		assertAvailable(t, store, "X", 1)

		_, err = l.RequestBorrow(ctx, "X", Borrower{ID: "B", Name: "Bob"})
		require.NoError(t, err)
		assertAvailable(t, store, "X", 0)

		_, err = l.RequestBorrow(ctx, "X", Borrower{ID: "C", Name: "Carol"})
		require.ErrorIs(t, err, ErrOutOfStock)
		assertAvailable(t, store, "X", 0)

		clock.Advance(time.Hour)
		_, err = l.ApplyTransition(ctx, "X", a.ID, StatusBorrowed)
		require.NoError(t, err)

		clock.Advance(24 * time.Hour)
		returnedAt := clock.Now()
		res, err := l.ApplyTransition(ctx, "X", a.ID, StatusReturned)
		require.NoError(t, err)
		require.NotNil(t, res.Record.ReturnDate)
		assert.True(t, res.Record.ReturnDate.Equal(returnedAt))
		assert.Equal(t, 0, res.AvailableCopies, "returned does not restock")

		clock.Advance(time.Hour)
		res, err = l.ApplyTransition(ctx, "X", a.ID, StatusReceived)
		require.NoError(t, err)
		assert.Equal(t, 1, res.AvailableCopies)

		title, err := store.GetTitle(ctx, "X")
		require.NoError(t, err)
		assert.Equal(t, 1, title.AvailableCopies)
		rec, ok := title.Record(a.ID)
		require.True(t, ok)
		assert.Equal(t, StatusReceived, rec.Status)
		require.NotNil(t, rec.ReturnDate)
		assert.True(t, rec.ReturnDate.Equal(returnedAt), "return date is the returned step, not the received one")
	})
}

func TestLedgerRoundTripRestoresCounter(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		l := newTestLedger(store)
		seedTitle(t, l, "t1", "Dune", 3)

		rec, err := l.RequestBorrow(ctx, "t1", Borrower{ID: "u1", Name: "Ada"})
		require.NoError(t, err)
		assertAvailable(t, store, "t1", 2)

		for _, st := range []Status{StatusBorrowed, StatusReturned, StatusReceived} {
			_, err := l.ApplyTransitionByRecord(ctx, rec.ID, st)
			require.NoError(t, err)
		}
		assertAvailable(t, store, "t1", 3)

		_, err = l.ApplyTransition(ctx, "t1", rec.ID, StatusReceived)
		require.ErrorIs(t, err, ErrInvalidTransition)
		assertAvailable(t, store, "t1", 3)
	})
}

func TestLedgerConcurrentBorrowOfLastCopy(t *testing.T) {
	const k = 16
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		l := newTestLedger(store)
		seedTitle(t, l, "last", "The Last Copy", 1)

		var (
			wg      sync.WaitGroup
			start   = make(chan struct{})
			results = make(chan error, k)
		)
		for i := 0; i < k; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, err := l.RequestBorrow(ctx, "last", Borrower{ID: fmt.Sprintf("user-%d", i)})
				results <- err
			}(i)
		}
		close(start)
		wg.Wait()
		close(results)

		var ok, outOfStock int
		for err := range results {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrOutOfStock):
				outOfStock++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, k-1, outOfStock)

		title, err := store.GetTitle(ctx, "last")
		require.NoError(t, err)
		assert.Equal(t, 0, title.AvailableCopies)
		assert.Len(t, title.Records, 1)
	})
}

func TestLedgerInvariantsUnderRandomInterleaving(t *testing.T) {
	const (
		copies  = 3
		workers = 6
		ops     = 30
	)
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		l := newTestLedger(store)
		seedTitle(t, l, "t1", "Contended", copies)

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				rnd := rand.New(rand.NewSource(int64(w)))
				for i := 0; i < ops; i++ {
					user := fmt.Sprintf("u%d-%d", w, rnd.Intn(3))
					var err error
					if rnd.Intn(2) == 0 {
						_, err = l.RequestBorrow(ctx, "t1", Borrower{ID: user})
					} else {
						err = advanceOnce(ctx, l, "t1", user)
					}
					if err != nil && !expectedRejection(err) {
						t.Errorf("worker %d: %v", w, err)
						return
					}
					checkCounterInvariants(t, store, "t1", copies)
				}
			}(w)
		}
		wg.Wait()
		checkCounterInvariants(t, store, "t1", copies)
	})
}

func TestLedgerAdvanceForUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		l := newTestLedger(store)
		seedTitle(t, l, "t1", "Dune", 1)

		_, err := l.AdvanceForUser(ctx, "t1", "u1", StatusBorrowed)
		require.ErrorIs(t, err, ErrNotFound)

		rec, err := l.RequestBorrow(ctx, "t1", Borrower{ID: "u1"})
		require.NoError(t, err)

		res, err := l.AdvanceForUser(ctx, "t1", "u1", StatusBorrowed)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, res.Record.ID)
		assert.Equal(t, StatusBorrowed, res.Record.Status)

		_, err = l.AdvanceForUser(ctx, "t1", "u1", StatusReceived)
		require.ErrorIs(t, err, ErrInvalidTransition)

		_, err = l.AdvanceForUser(ctx, "t1", "u1", Status("lost"))
		require.ErrorIs(t, err, ErrInvalidTransition)
		var te *TransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, rec.ID, te.RecordID)
		assert.Equal(t, StatusBorrowed, te.From)
		assert.Contains(t, err.Error(), "record "+rec.ID+" cannot go from borrowed to lost")
	})
}

func TestLedgerUnknownTargetOnMissingTitle(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		l := newTestLedger(store)
		seedTitle(t, l, "t1", "Dune", 1)

		_, err := l.ApplyTransition(ctx, "missing", "r1", Status("lost"))
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = l.ApplyTransition(ctx, "t1", "missing", Status("lost"))
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = l.AdvanceForUser(ctx, "missing", "u1", Status("lost"))
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = l.AdvanceForUser(ctx, "t1", "u1", Status("lost"))
		assert.ErrorIs(t, err, ErrNotFound, "no open borrowing for the user")
	})
}

func TestLedgerNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		l := newTestLedger(store)
		seedTitle(t, l, "t1", "Dune", 1)

		_, err := l.RequestBorrow(ctx, "missing", Borrower{ID: "u1"})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = l.ApplyTransition(ctx, "t1", "missing", StatusBorrowed)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = l.ApplyTransitionByRecord(ctx, "missing", StatusBorrowed)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = l.RequestBorrow(ctx, "t1", Borrower{})
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assertAvailable(t, store, "t1", 1)
	})
}

func TestLedgerCatalogOperations(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		l := newTestLedger(store, WithIDGenerator(func() string { return "generated" }))

		title, err := l.AddTitle(ctx, TitleInfo{Title: "Solaris", Author: "Stanisław Lem"}, 0)
		require.NoError(t, err)
		assert.Equal(t, "generated", title.ID)

		_, err = l.RequestBorrow(ctx, title.ID, Borrower{ID: "u1"})
		require.ErrorIs(t, err, ErrOutOfStock)

		restocked, err := l.Restock(ctx, title.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, restocked.TotalCopies)
		assert.Equal(t, 2, restocked.AvailableCopies)

		_, err = l.Restock(ctx, title.ID, -1)
		require.ErrorIs(t, err, ErrInvalidArgument)

		_, err = l.AddTitle(ctx, TitleInfo{Title: "Broken"}, -1)
		require.ErrorIs(t, err, ErrInvalidArgument)

		titles, err := store.Titles(ctx)
		require.NoError(t, err)
		require.Len(t, titles, 1)
		assert.Equal(t, "Solaris", titles[0].Title)
	})
}

func TestLedgerDueDateFollowsLoanPeriod(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		clock := newFakeClock()
		l := newTestLedger(store, WithClock(clock.Now), WithLoanPeriod(7*24*time.Hour))
		seedTitle(t, l, "t1", "Dune", 1)

		rec, err := l.RequestBorrow(context.Background(), "t1", Borrower{ID: "u1"})
		require.NoError(t, err)
		assert.True(t, rec.BorrowDate.Equal(fixedNow))
		assert.True(t, rec.DueDate.Equal(fixedNow.Add(7*24*time.Hour)))
	})
}

func TestLedgerWrapsStoreFailures(t *testing.T) {
	db := tempDB(t)
	l := newTestLedger(db)
	seedTitle(t, l, "t1", "Dune", 1)
	require.NoError(t, db.Close())

	_, err := l.RequestBorrow(context.Background(), "t1", Borrower{ID: "u1"})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	assert.NotErrorIs(t, err, ErrOutOfStock)
}

func TestLedgerCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLedger(store)
	seedTitle(t, l, "t1", "Dune", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.RequestBorrow(ctx, "t1", Borrower{ID: "u1"})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.ErrorIs(t, err, context.Canceled)
	assertAvailable(t, store, "t1", 1)
}

func advanceOnce(ctx context.Context, l *Ledger, titleID, userID string) error {
	t, err := l.store.GetTitle(ctx, titleID)
	if err != nil {
		return err
	}
	rec, ok := t.LatestRecordFor(userID)
	if !ok {
		return nil
	}
	next, ok := rec.Status.Next()
	if !ok {
		return nil
	}
	_, err = l.ApplyTransition(ctx, titleID, rec.ID, next)
	return err
}

func expectedRejection(err error) bool {
	return errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrAlreadyBorrowed) ||
		errors.Is(err, ErrInvalidTransition)
}

func checkCounterInvariants(t *testing.T, store Store, titleID string, total int) {
	t.Helper()
	title, err := store.GetTitle(context.Background(), titleID)
	if !assert.NoError(t, err) {
		return
	}
	assert.GreaterOrEqual(t, title.AvailableCopies, 0)
	assert.LessOrEqual(t, title.AvailableCopies, total)
	assert.Equal(t, total-title.LentOut(), title.AvailableCopies)

	active := map[string]int{}
	for _, rec := range title.Records {
		if rec.Status.Active() {
			active[rec.UserID]++
		}
	}
	for user, n := range active {
		assert.LessOrEqual(t, n, 1, "user %s has %d active records", user, n)
	}
}

func assertAvailable(t *testing.T, store Store, titleID string, want int) {
	t.Helper()
	title, err := store.GetTitle(context.Background(), titleID)
	require.NoError(t, err)
	assert.Equal(t, want, title.AvailableCopies)
}
