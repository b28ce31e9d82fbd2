package library

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
)

// SortField names the column a listing is ordered by.
type SortField string

const (
	SortByBorrowDate SortField = "borrowDate"
	SortByStatus     SortField = "status"
	SortByReturnDate SortField = "returnDate"
	SortByDueDate    SortField = "dueDate"
)

// SortOrder is asc or desc.
type SortOrder string

const (
	Ascending  SortOrder = "asc"
	Descending SortOrder = "desc"
)

// Sort selects the ordering of a listing. The zero value means borrowDate desc.
type Sort struct {
	Field SortField
	Order SortOrder
}

// Filter narrows an administrative listing. Zero fields are ignored; Start
// and End bound borrowDate inclusively; Text is matched case-insensitively
// against the title, the borrower's name and the borrower's email.
type Filter struct {
	Status Status
	Start  time.Time
	End    time.Time
	Text   string
}

// BorrowingQuery is what stores evaluate. UserID restricts the listing to one
// borrower.
type BorrowingQuery struct {
	UserID string
	Filter Filter
	Sort   Sort
}

// ParseSort validates query-string values, applying the borrowDate desc default.
func ParseSort(field, order string) (Sort, error) {
	s := Sort{Field: SortField(strings.TrimSpace(field)), Order: SortOrder(strings.ToLower(strings.TrimSpace(order)))}
	if s.Field == "" {
		s.Field = SortByBorrowDate
	}
	if s.Order == "" {
		s.Order = Descending
	}
	return s, s.validate()
}

// ParseFilter builds a Filter from query-string values. Dates are RFC 3339
// timestamps or plain dates; a plain end date covers the whole day.
func ParseFilter(status, start, end, text string) (Filter, error) {
	f := Filter{Text: strings.TrimSpace(text)}
	if status = strings.TrimSpace(status); status != "" {
		st, err := ParseStatus(status)
		if err != nil {
			return Filter{}, err
		}
		f.Status = st
	}

	var err error
	if f.Start, err = parseDate(start, false); err != nil {
		return Filter{}, err
	}
	if f.End, err = parseDate(end, true); err != nil {
		return Filter{}, err
	}
	return f, f.validate()
}

func parseDate(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrInvalidArgument, raw)
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Microsecond)
	}
	return d, nil
}

func (s Sort) normalized() Sort {
	if s.Field == "" {
		s.Field = SortByBorrowDate
	}
	if s.Order == "" {
		s.Order = Descending
	}
	return s
}

func (s Sort) validate() error {
	switch s.Field {
	case SortByBorrowDate, SortByStatus, SortByReturnDate, SortByDueDate:
	default:
		return fmt.Errorf("%w: unknown sort field %q", ErrInvalidArgument, s.Field)
	}
	switch s.Order {
	case Ascending, Descending:
	default:
		return fmt.Errorf("%w: unknown sort order %q", ErrInvalidArgument, s.Order)
	}
	return nil
}

func (f Filter) validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, f.Status)
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return fmt.Errorf("%w: date range ends before it starts", ErrInvalidArgument)
	}
	return nil
}

// Matches reports whether v passes the filter.
func (f Filter) Matches(v BorrowingView) bool {
	if f.Status != "" && v.Record.Status != f.Status {
		return false
	}
	if !f.Start.IsZero() && v.Record.BorrowDate.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && v.Record.BorrowDate.After(f.End) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Text)); q != "" {
		return strings.Contains(strings.ToLower(v.Title), q) ||
			strings.Contains(strings.ToLower(v.Record.UserName), q) ||
			strings.Contains(strings.ToLower(v.Record.UserEmail), q)
	}
	return true
}

func (q BorrowingQuery) matches(v BorrowingView) bool {
	if q.UserID != "" && v.Record.UserID != q.UserID {
		return false
	}
	return q.Filter.Matches(v)
}

// sortViews orders views in place. Missing return dates go last whatever the
// direction; ties fall back to record id.
func sortViews(views []BorrowingView, s Sort) {
	s = s.normalized()
	desc := s.Order == Descending

	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i].Record, views[j].Record
		var c int
		switch s.Field {
		case SortByStatus:
			c = a.Status.rank() - b.Status.rank()
		case SortByDueDate:
			c = a.DueDate.Compare(b.DueDate)
		case SortByReturnDate:
			switch {
			case a.ReturnDate == nil && b.ReturnDate == nil:
			case a.ReturnDate == nil:
				return false
			case b.ReturnDate == nil:
				return true
			default:
				c = a.ReturnDate.Compare(*b.ReturnDate)
			}
		default:
			c = a.BorrowDate.Compare(b.BorrowDate)
		}
		if c != 0 {
			return (c < 0) != desc
		}
		return a.ID < b.ID
	})
}

const statusRankSQL = "CASE b.status WHEN 'pending' THEN 0 WHEN 'borrowed' THEN 1 WHEN 'returned' THEN 2 ELSE 3 END"

var borrowingColumns = []any{
	goqu.I("b.title_id"), goqu.I("t.title"), goqu.I("t.author"), goqu.I("t.genre"),
	goqu.I("b.id"), goqu.I("b.user_id"), goqu.I("b.user_name"), goqu.I("b.user_email"),
	goqu.I("b.status"), goqu.I("b.borrow_date"), goqu.I("b.due_date"), goqu.I("b.return_date"),
}

// buildBorrowingsQuery renders q as one SELECT over borrowings joined with
// titles, so a listing is read from a single statement snapshot.
func buildBorrowingsQuery(dialect string, q BorrowingQuery) (string, []any, error) {
	ds := goqu.Dialect(dialect).
		From(goqu.T("borrowings").As("b")).
		Join(goqu.T("titles").As("t"), goqu.On(goqu.I("t.id").Eq(goqu.I("b.title_id")))).
		Select(borrowingColumns...).
		Prepared(true)

	var where []exp.Expression
	if q.UserID != "" {
		where = append(where, goqu.I("b.user_id").Eq(q.UserID))
	}
	f := q.Filter
	if f.Status != "" {
		where = append(where, goqu.I("b.status").Eq(string(f.Status)))
	}
	if !f.Start.IsZero() {
		where = append(where, goqu.I("b.borrow_date").Gte(f.Start.UTC()))
	}
	if !f.End.IsZero() {
		where = append(where, goqu.I("b.borrow_date").Lte(f.End.UTC()))
	}
	if text := strings.ToLower(strings.TrimSpace(f.Text)); text != "" {
		pattern := "%" + likeEscaper.Replace(text) + "%"
		where = append(where, goqu.Or(
			goqu.L(`LOWER(t.title) LIKE ? ESCAPE '\'`, pattern),
			goqu.L(`LOWER(b.user_name) LIKE ? ESCAPE '\'`, pattern),
			goqu.L(`LOWER(b.user_email) LIKE ? ESCAPE '\'`, pattern),
		))
	}
	if len(where) > 0 {
		ds = ds.Where(where...)
	}

	ds = ds.Order(orderBy(q.Sort)...)
	return ds.ToSQL()
}

// likeEscaper makes user text match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func orderBy(s Sort) []exp.OrderedExpression {
	s = s.normalized()
	direction := func(o exp.Orderable) exp.OrderedExpression {
		if s.Order == Ascending {
			return o.Asc()
		}
		return o.Desc()
	}

	var order []exp.OrderedExpression
	switch s.Field {
	case SortByStatus:
		order = append(order, direction(goqu.L(statusRankSQL)))
	case SortByDueDate:
		order = append(order, direction(goqu.I("b.due_date")))
	case SortByReturnDate:
		order = append(order, goqu.L("(b.return_date IS NULL)").Asc(), direction(goqu.I("b.return_date")))
	default:
		order = append(order, direction(goqu.I("b.borrow_date")))
	}
	return append(order, goqu.I("b.id").Asc())
}
