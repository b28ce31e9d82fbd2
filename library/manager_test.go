package library

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "lib.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestOpenDrivers(t *testing.T) {
	mgr := newManager(t)
	_, ok := mgr.Store.(*Database)
	assert.True(t, ok)

	mem, err := Open(context.Background(), "memory", "")
	require.NoError(t, err)
	_, ok = mem.Store.(*MemoryStore)
	assert.True(t, ok)

	_, err = Open(context.Background(), "mongodb", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestManagerSharesStore(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	title, err := mgr.Ledger.AddTitle(ctx, TitleInfo{Title: "Hello", Author: "Anon"}, 1)
	require.NoError(t, err)
	_, err = mgr.Ledger.RequestBorrow(ctx, title.ID, Borrower{ID: "u1", Name: "Ada"})
	require.NoError(t, err)

	views, err := mgr.Queries.ListForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "Hello", views[0].Title)
}

func TestPrettyView(t *testing.T) {
	returned := fixedNow.Add(48 * time.Hour)
	line := PrettyView(BorrowingView{
		Title: strings.Repeat("Long Title ", 5),
		Record: BorrowingRecord{
			ID:         "r1",
			UserName:   "Ada",
			Status:     StatusReturned,
			BorrowDate: fixedNow,
			DueDate:    fixedNow.Add(14 * 24 * time.Hour),
			ReturnDate: &returned,
		},
	})
	assert.Contains(t, line, "Long Title Long Title Long ...")
	assert.Contains(t, line, "2026-03-14")
	assert.Contains(t, line, "2026-03-28")
	assert.Contains(t, line, "2026-03-16")
	assert.Contains(t, line, "returned")
}
