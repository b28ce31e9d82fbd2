package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the embedded SQLite catalog store.
//
// Every write transaction starts with BEGIN IMMEDIATE (_txlock=immediate), so
// the read-check-write of an UpdateTitle holds SQLite's write lock from its
// first read. SQLite has one writer per file; titles therefore do not update
// in parallel here the way they do in MemoryStore or PostgresStore.
type Database struct {
	db *sql.DB

	insertTitleStmt *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.insertTitleStmt != nil {
		d.insertTitleStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL lets listings read a snapshot while a borrow commits.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS titles (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL DEFAULT '',
            genre TEXT NOT NULL DEFAULT '',
            total_copies INTEGER NOT NULL DEFAULT 0,
            available_copies INTEGER NOT NULL DEFAULT 0 CHECK (available_copies >= 0)
        );`,
		`CREATE TABLE IF NOT EXISTS borrowings (
            id TEXT PRIMARY KEY,
            title_id TEXT NOT NULL REFERENCES titles(id),
            seq INTEGER NOT NULL,
            user_id TEXT NOT NULL,
            user_name TEXT NOT NULL DEFAULT '',
            user_email TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL CHECK (status IN ('pending','borrowed','returned','received')),
            borrow_date DATETIME NOT NULL,
            due_date DATETIME NOT NULL,
            return_date DATETIME
        );`,
		`CREATE INDEX IF NOT EXISTS idx_borrowings_title ON borrowings(title_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_borrowings_user ON borrowings(user_id, borrow_date);`,
		// One open loan per (title, user), enforced by the schema as well.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_borrowings_active ON borrowings(title_id, user_id)
            WHERE status IN ('pending','borrowed');`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.insertTitleStmt, err = d.db.Prepare(`INSERT INTO titles(id,title,author,genre,total_copies,available_copies) VALUES(?,?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Store implementation
// ---------------------------------------------------------------------------

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *Database) CreateTitle(ctx context.Context, t *Title) error {
	if _, err := d.insertTitleStmt.ExecContext(ctx, t.ID, t.Title, t.Author, t.Genre, t.TotalCopies, t.AvailableCopies); err != nil {
		return storageError("create title", err)
	}
	return nil
}

// GetTitle reads the title row and its records inside one read transaction.
func (d *Database) GetTitle(ctx context.Context, titleID string) (*Title, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, storageError("begin read", err)
	}
	defer tx.Rollback()

	t, err := loadTitle(ctx, tx, titleID)
	if err != nil {
		return nil, err
	}
	return t, storageError("commit read", tx.Commit())
}

// UpdateTitle loads, mutates and writes back one title inside a single
// immediate transaction.
func (d *Database) UpdateTitle(ctx context.Context, titleID string, fn func(*Title) error) (*Title, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("begin update", err)
	}
	defer tx.Rollback()

	t, err := loadTitle(ctx, tx, titleID)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := writeTitle(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError("commit update", err)
	}

	t.markLoaded()
	return t, nil
}

func loadTitle(ctx context.Context, q queryer, titleID string) (*Title, error) {
	var t Title
	err := q.QueryRowContext(ctx, `SELECT id,title,author,genre,total_copies,available_copies FROM titles WHERE id=?`, titleID).
		Scan(&t.ID, &t.Title, &t.Author, &t.Genre, &t.TotalCopies, &t.AvailableCopies)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("title %s", titleID)
	}
	if err != nil {
		return nil, storageError("load title", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT id,user_id,user_name,user_email,status,borrow_date,due_date,return_date
        FROM borrowings WHERE title_id=? ORDER BY seq`, titleID)
	if err != nil {
		return nil, storageError("load borrowings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec      BorrowingRecord
			returned sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.UserName, &rec.UserEmail, &rec.Status, &rec.BorrowDate, &rec.DueDate, &returned); err != nil {
			return nil, storageError("scan borrowing", err)
		}
		normalizeRecord(&rec, returned)
		t.Records = append(t.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("load borrowings", err)
	}

	t.markLoaded()
	return &t, nil
}

// writeTitle persists what fn changed. The counter is written as a
// compare-and-swap against the value read at the start of the transaction.
func writeTitle(ctx context.Context, tx *sql.Tx, t *Title) error {
	res, err := tx.ExecContext(ctx, `UPDATE titles SET available_copies=?, total_copies=? WHERE id=? AND available_copies=?`,
		t.AvailableCopies, t.TotalCopies, t.ID, t.loadedCopies)
	if err != nil {
		return storageError("update counter", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageError("update counter", err)
	}
	if n != 1 {
		return storageError("update counter", errConcurrentUpdate)
	}

	for seq, rec := range t.Records {
		switch t.changes[rec.ID] {
		case recordAppended:
			_, err = tx.ExecContext(ctx, `INSERT INTO borrowings(id,title_id,seq,user_id,user_name,user_email,status,borrow_date,due_date,return_date)
                VALUES(?,?,?,?,?,?,?,?,?,?)`,
				rec.ID, t.ID, seq, rec.UserID, rec.UserName, rec.UserEmail, string(rec.Status), rec.BorrowDate, rec.DueDate, nullTime(rec.ReturnDate))
		case recordUpdated:
			_, err = tx.ExecContext(ctx, `UPDATE borrowings SET status=?, return_date=? WHERE id=? AND title_id=?`,
				string(rec.Status), nullTime(rec.ReturnDate), rec.ID, t.ID)
		default:
			continue
		}
		if err != nil {
			return storageError("write borrowing", err)
		}
	}
	return nil
}

func (d *Database) TitleIDForRecord(ctx context.Context, recordID string) (string, error) {
	var titleID string
	err := d.db.QueryRowContext(ctx, `SELECT title_id FROM borrowings WHERE id=?`, recordID).Scan(&titleID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("borrowing record %s", recordID)
	}
	if err != nil {
		return "", storageError("resolve record", err)
	}
	return titleID, nil
}

// Titles returns metadata only (no records) for quick listing.
func (d *Database) Titles(ctx context.Context) ([]Title, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id,title,author,genre,total_copies,available_copies FROM titles ORDER BY id`)
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
	if err := rows.Err(); err != nil {
		return nil, storageError("list titles", err)
	}
	return titles, nil
}

// Borrowings runs the listing as a single SELECT, which SQLite evaluates
// against one WAL snapshot.
func (d *Database) Borrowings(ctx context.Context, q BorrowingQuery) ([]BorrowingView, error) {
	query, args, err := buildBorrowingsQuery("sqlite3", q)
	if err != nil {
		return nil, storageError("build listing", err)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("list borrowings", err)
	}
	defer rows.Close()

	views := []BorrowingView{}
	for rows.Next() {
		var (
			v        BorrowingView
			returned sql.NullTime
		)
		if err := rows.Scan(&v.TitleID, &v.Title, &v.Author, &v.Genre,
			&v.Record.ID, &v.Record.UserID, &v.Record.UserName, &v.Record.UserEmail,
			&v.Record.Status, &v.Record.BorrowDate, &v.Record.DueDate, &returned); err != nil {
			return nil, storageError("scan borrowing", err)
		}
		normalizeRecord(&v.Record, returned)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list borrowings", err)
	}
	return views, nil
}

func normalizeRecord(rec *BorrowingRecord, returned sql.NullTime) {
	rec.BorrowDate = rec.BorrowDate.UTC()
	rec.DueDate = rec.DueDate.UTC()
	if returned.Valid {
		rd := returned.Time.UTC()
		rec.ReturnDate = &rd
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
