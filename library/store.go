package library

import (
	"context"
)

// Store is the catalog store the ledger works against: titles keyed by id,
// each owning its borrowing records.
//
// UpdateTitle is the only write path for existing titles. fn receives the
// title as currently stored and may mutate it through its methods; the store
// commits the counter and every touched record together, or nothing at all
// if fn or the commit fails. Concurrent UpdateTitle calls on the same title
// are serialized; calls on different titles need not be.
type Store interface {
	CreateTitle(ctx context.Context, t *Title) error
	GetTitle(ctx context.Context, titleID string) (*Title, error)
	UpdateTitle(ctx context.Context, titleID string, fn func(*Title) error) (*Title, error)
	TitleIDForRecord(ctx context.Context, recordID string) (string, error)
	// Titles lists catalog metadata and counters, without records.
	Titles(ctx context.Context) ([]Title, error)
	Borrowings(ctx context.Context, q BorrowingQuery) ([]BorrowingView, error)
	Close() error
}
