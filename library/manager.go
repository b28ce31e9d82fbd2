package library

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Manager is a thin façade bundling a store with the ledger and query service
// built over it, keeping CLI and HTTP code simple.
type Manager struct {
	Store   Store
	Ledger  *Ledger
	Queries *Queries
}

// NewManager wires a ledger and query service over an already opened store.
func NewManager(store Store, opts ...Option) *Manager {
	return &Manager{
		Store:   store,
		Ledger:  NewLedger(store, opts...),
		Queries: NewQueries(store),
	}
}

// Open opens the store named by driver. For sqlite dsn is a file path; for
// postgres a connection string; memory ignores it.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Manager, error) {
	var (
		store Store
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "sqlite3", "":
		store, err = NewDatabase(dsn)
	case DriverPostgres, "pgx":
		store, err = NewPostgresStore(ctx, dsn)
	case DriverMemory:
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", ErrInvalidArgument, driver)
	}
	if err != nil {
		return nil, err
	}
	return NewManager(store, opts...), nil
}

// Close closes the underlying store.
func (m *Manager) Close() error { return m.Store.Close() }

// ------------------ Utilities ------------------

// PrettyView formats a borrowing view for lists.
func PrettyView(v BorrowingView) string {
	returned := "-"
	if v.Record.ReturnDate != nil {
		returned = v.Record.ReturnDate.Format(time.DateOnly)
	}
	return fmt.Sprintf("%-36s %-30s %-20s %-9s %-10s %-10s %-10s",
		v.Record.ID,
		truncate(v.Title, 30),
		truncate(v.Record.UserName, 20),
		v.Record.Status,
		v.Record.BorrowDate.Format(time.DateOnly),
		v.Record.DueDate.Format(time.DateOnly),
		returned,
	)
}

// PrettyTitle formats a title for lists.
func PrettyTitle(t Title) string {
	return fmt.Sprintf("%-36s %-30s %-25s %5d/%-5d", t.ID, truncate(t.Title, 30), truncate(t.Author, 25), t.AvailableCopies, t.TotalCopies)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
