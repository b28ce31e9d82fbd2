package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps titles and borrowings in PostgreSQL. UpdateTitle takes a
// row lock on the title (SELECT ... FOR UPDATE), so only operations on the same
// title wait for each other.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS titles (
        id TEXT PRIMARY KEY,
        title TEXT NOT NULL,
        author TEXT NOT NULL DEFAULT '',
        genre TEXT NOT NULL DEFAULT '',
        total_copies INTEGER NOT NULL DEFAULT 0,
        available_copies INTEGER NOT NULL DEFAULT 0 CHECK (available_copies >= 0)
    )`,
	`CREATE TABLE IF NOT EXISTS borrowings (
        id TEXT PRIMARY KEY,
        title_id TEXT NOT NULL REFERENCES titles(id),
        seq INTEGER NOT NULL,
        user_id TEXT NOT NULL,
        user_name TEXT NOT NULL DEFAULT '',
        user_email TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL CHECK (status IN ('pending','borrowed','returned','received')),
        borrow_date TIMESTAMPTZ NOT NULL,
        due_date TIMESTAMPTZ NOT NULL,
        return_date TIMESTAMPTZ
    )`,
	`CREATE INDEX IF NOT EXISTS idx_borrowings_title ON borrowings(title_id, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_borrowings_user ON borrowings(user_id, borrow_date)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_borrowings_active ON borrowings(title_id, user_id)
        WHERE status IN ('pending','borrowed')`,
}

// NewPostgresStore connects to dsn and creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromPool wraps an existing pool. The schema must exist.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateTitle(ctx context.Context, t *Title) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO titles(id,title,author,genre,total_copies,available_copies) VALUES($1,$2,$3,$4,$5,$6)`,
		t.ID, t.Title, t.Author, t.Genre, t.TotalCopies, t.AvailableCopies)
	return storageError("create title", err)
}

// GetTitle reads the title and its records from one repeatable-read snapshot.
func (s *PostgresStore) GetTitle(ctx context.Context, titleID string) (*Title, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, storageError("begin read", err)
	}
	defer tx.Rollback(ctx)

	t, err := pgLoadTitle(ctx, tx, titleID, false)
	if err != nil {
		return nil, err
	}
	return t, storageError("commit read", tx.Commit(ctx))
}

func (s *PostgresStore) UpdateTitle(ctx context.Context, titleID string, fn func(*Title) error) (*Title, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageError("begin update", err)
	}
	defer tx.Rollback(ctx)

	t, err := pgLoadTitle(ctx, tx, titleID, true)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := pgWriteTitle(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageError("commit update", err)
	}

	t.markLoaded()
	return t, nil
}

func pgLoadTitle(ctx context.Context, tx pgx.Tx, titleID string, lock bool) (*Title, error) {
	query := `SELECT id,title,author,genre,total_copies,available_copies FROM titles WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}

	var t Title
	err := tx.QueryRow(ctx, query, titleID).
		Scan(&t.ID, &t.Title, &t.Author, &t.Genre, &t.TotalCopies, &t.AvailableCopies)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("title %s", titleID)
	}
	if err != nil {
		return nil, storageError("load title", err)
	}

	rows, err := tx.Query(ctx, `SELECT id,user_id,user_name,user_email,status,borrow_date,due_date,return_date
        FROM borrowings WHERE title_id=$1 ORDER BY seq`, titleID)
	if err != nil {
		return nil, storageError("load borrowings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec BorrowingRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.UserName, &rec.UserEmail, &rec.Status, &rec.BorrowDate, &rec.DueDate, &rec.ReturnDate); err != nil {
			return nil, storageError("scan borrowing", err)
		}
		utcRecord(&rec)
		t.Records = append(t.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("load borrowings", err)
	}

	t.markLoaded()
	return &t, nil
}

func pgWriteTitle(ctx context.Context, tx pgx.Tx, t *Title) error {
	tag, err := tx.Exec(ctx, `UPDATE titles SET available_copies=$1, total_copies=$2 WHERE id=$3 AND available_copies=$4`,
		t.AvailableCopies, t.TotalCopies, t.ID, t.loadedCopies)
	if err != nil {
		return storageError("update counter", err)
	}
	if tag.RowsAffected() != 1 {
		return storageError("update counter", errConcurrentUpdate)
	}

	batch := &pgx.Batch{}
	for seq, rec := range t.Records {
		switch t.changes[rec.ID] {
		case recordAppended:
			batch.Queue(`INSERT INTO borrowings(id,title_id,seq,user_id,user_name,user_email,status,borrow_date,due_date,return_date)
                VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
				rec.ID, t.ID, seq, rec.UserID, rec.UserName, rec.UserEmail, string(rec.Status), rec.BorrowDate, rec.DueDate, rec.ReturnDate)
		case recordUpdated:
			batch.Queue(`UPDATE borrowings SET status=$1, return_date=$2 WHERE id=$3 AND title_id=$4`,
				string(rec.Status), rec.ReturnDate, rec.ID, t.ID)
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	return storageError("write borrowings", tx.SendBatch(ctx, batch).Close())
}

func (s *PostgresStore) TitleIDForRecord(ctx context.Context, recordID string) (string, error) {
	var titleID string
	err := s.pool.QueryRow(ctx, `SELECT title_id FROM borrowings WHERE id=$1`, recordID).Scan(&titleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", notFound("borrowing record %s", recordID)
	}
	if err != nil {
		return "", storageError("resolve record", err)
	}
	return titleID, nil
}

func (s *PostgresStore) Titles(ctx context.Context) ([]Title, error) {
	rows, err := s.pool.Query(ctx, `SELECT id,title,author,genre,total_copies,available_copies FROM titles ORDER BY id`)
	if err != nil {
		return nil, storageError("list titles", err)
	}
	defer rows.Close()

	titles := []Title{}
	for rows.Next() {
		var t Title
		if err := rows.Scan(&t.ID, &t.Title, &t.Author, &t.Genre, &t.TotalCopies, &t.AvailableCopies); err != nil {
			return nil, storageError("scan title", err)
		}
		titles = append(titles, t)
	}
	return titles, storageError("list titles", rows.Err())
}

func (s *PostgresStore) Borrowings(ctx context.Context, q BorrowingQuery) ([]BorrowingView, error) {
	query, args, err := buildBorrowingsQuery("postgres", q)
	if err != nil {
		return nil, storageError("build listing", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("list borrowings", err)
	}
	defer rows.Close()

	views := []BorrowingView{}
	for rows.Next() {
		var v BorrowingView
		if err := rows.Scan(&v.TitleID, &v.Title, &v.Author, &v.Genre,
			&v.Record.ID, &v.Record.UserID, &v.Record.UserName, &v.Record.UserEmail,
			&v.Record.Status, &v.Record.BorrowDate, &v.Record.DueDate, &v.Record.ReturnDate); err != nil {
			return nil, storageError("scan borrowing", err)
		}
		utcRecord(&v.Record)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list borrowings", err)
	}
	return views, nil
}

func utcRecord(rec *BorrowingRecord) {
	rec.BorrowDate = rec.BorrowDate.UTC()
	rec.DueDate = rec.DueDate.UTC()
	if rec.ReturnDate != nil {
		rd := rec.ReturnDate.UTC()
		rec.ReturnDate = &rd
	}
}
