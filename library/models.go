package library

import "time"

// Title is a catalogued book together with its copy counter and the borrowing
// records it owns. Records have no lifecycle outside their title.
type Title struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Author          string            `json:"author"`
	Genre           string            `json:"genre"`
	TotalCopies     int               `json:"totalCopies"`
	AvailableCopies int               `json:"availableCopies"`
	Records         []BorrowingRecord `json:"borrowingRecords"`

	// Bookkeeping for stores: the counter as loaded and the records touched
	// since, so a write-back only issues what changed.
	loadedCopies int
	changes      map[string]recordChange
}

type recordChange int

const (
	recordAppended recordChange = iota + 1
	recordUpdated
)

// BorrowingRecord tracks one user's loan of one title.
type BorrowingRecord struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	UserName   string     `json:"userName"`
	UserEmail  string     `json:"userEmail,omitempty"`
	Status     Status     `json:"status"`
	BorrowDate time.Time  `json:"borrowDate"`
	DueDate    time.Time  `json:"dueDate"`
	ReturnDate *time.Time `json:"returnDate,omitempty"`
}

// Borrower is the account-directory identity attached to a borrow request.
type Borrower struct {
	ID    string `json:"userId"`
	Name  string `json:"userName"`
	Email string `json:"userEmail,omitempty"`
}

// TitleInfo is the catalog metadata used when registering a title.
type TitleInfo struct {
	ID     string `json:"id" yaml:"id"`
	Title  string `json:"title" yaml:"title"`
	Author string `json:"author" yaml:"author"`
	Genre  string `json:"genre" yaml:"genre"`
}

// BorrowingView is a record flattened with the metadata of its title.
type BorrowingView struct {
	TitleID string          `json:"titleId"`
	Title   string          `json:"title"`
	Author  string          `json:"author"`
	Genre   string          `json:"genre"`
	Record  BorrowingRecord `json:"record"`
}

// StatusView answers "where is this user with this title".
// Status is empty when the user never borrowed the title.
type StatusView struct {
	Status          Status `json:"status"`
	BorrowingID     string `json:"borrowingId,omitempty"`
	RemainingCopies int    `json:"remainingCopies"`
}

// TransitionResult is returned by status changes: the updated record and the
// counter after the change.
type TransitionResult struct {
	TitleID         string          `json:"titleId"`
	Record          BorrowingRecord `json:"record"`
	AvailableCopies int             `json:"availableCopies"`
}
