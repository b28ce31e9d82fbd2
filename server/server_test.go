package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"library-ledger/auth"
	"library-ledger/library"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	handler http.Handler
	ledger  *library.Ledger
	store   library.Store
	issuer  *auth.Issuer
	admin   string
	member  string
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	store := library.NewMemoryStore()
	ledger := library.NewLedger(store)
	for _, id := range []string{"X", "Y"} {
		_, err := ledger.AddTitle(context.Background(), library.TitleInfo{ID: id, Title: "Title " + id, Author: "Anon"}, 1)
		require.NoError(t, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	admin := auth.Account{ID: "admin", Name: "Root", Email: "root@example.org", Role: auth.RoleAdmin, PasswordHash: string(hash)}
	member := auth.Account{ID: "u1", Name: "Ada", Email: "ada@example.org", Role: auth.RoleMember, PasswordHash: string(hash)}
	dir, err := auth.NewDirectory([]auth.Account{admin, member})
	require.NoError(t, err)
	issuer := auth.NewIssuer("test-secret", time.Hour)

	o := Options{
		Ledger:    ledger,
		Queries:   library.NewQueries(store),
		Directory: dir,
		Issuer:    issuer,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	f := &fixture{handler: New(o).Handler(), ledger: ledger, store: store, issuer: issuer}
	f.admin = f.token(t, admin)
	f.member = f.token(t, member)
	return f
}

func (f *fixture) token(t *testing.T, a auth.Account) string {
	t.Helper()
	tok, err := f.issuer.Issue(a)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthcheck(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthcheck", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": "ada@example.org", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	token := decode[map[string]string](t, w)["token"]
	claims, err := f.issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.ID)

	w = f.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": "ada@example.org", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/borrowings/myborrowings", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/borrowings/myborrowings", "garbage", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/borrowings", f.member, nil).Code)
}

func TestBorrowFlowOverHTTP(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/books/X/borrow", f.member, gin.H{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode[library.BorrowingRecord](t, w)
	assert.Equal(t, library.StatusPending, rec.Status)
	assert.Equal(t, "Ada", rec.UserName)

	w = f.do(t, http.MethodPost, "/books/X/borrow", f.member, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "AlreadyBorrowed", body["code"])
	assert.Equal(t, "pending", body["status"])

	w = f.do(t, http.MethodPost, "/books/X/borrow", f.admin, gin.H{"userId": "u2", "userName": "Bob"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "OutOfStock", decode[map[string]string](t, w)["code"])

	w = f.do(t, http.MethodGet, "/books/X/borrow-status?userId=u1", f.member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sv := decode[library.StatusView](t, w)
	assert.Equal(t, library.StatusView{Status: library.StatusPending, BorrowingID: rec.ID, RemainingCopies: 0}, sv)

	w = f.do(t, http.MethodPut, "/books/X/borrow-status", f.admin, gin.H{"targetStatus": "borrowed", "userId": "u1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPatch, "/borrowings/"+rec.ID, f.admin, gin.H{"targetStatus": "received"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidTransition", decode[map[string]string](t, w)["code"])

	w = f.do(t, http.MethodPatch, "/borrowings/"+rec.ID, f.admin, gin.H{"targetStatus": "returned"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[library.TransitionResult](t, w)
	assert.NotNil(t, res.Record.ReturnDate)
	assert.Equal(t, 0, res.AvailableCopies)

	w = f.do(t, http.MethodPut, "/borrowings/"+rec.ID, f.admin, gin.H{"targetStatus": "Received"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[library.TransitionResult](t, w).AvailableCopies)

	w = f.do(t, http.MethodGet, "/books/X", f.member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[titleSummary](t, w).AvailableCopies)
}

func TestMemberRestrictions(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/books/X/borrow", f.member, gin.H{"userId": "someone-else"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/books/X/borrow-status?userId=someone-else", f.member, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPut, "/books/X/borrow-status", f.member, gin.H{"targetStatus": "borrowed", "userId": "u1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/books/missing/borrow", f.member, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", decode[map[string]string](t, w)["code"])

	w = f.do(t, http.MethodGet, "/books/X/borrow-status", f.member, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPatch, "/borrowings/missing", f.admin, gin.H{"targetStatus": "borrowed"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPut, "/books/missing/borrow-status", f.admin, gin.H{"targetStatus": "lost", "userId": "u1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodPatch, "/borrowings/missing", f.admin, gin.H{"targetStatus": "lost"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/borrowings?sort=title", f.admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/borrowings?start=yesterday", f.admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMyBorrowingsEmpty(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/borrowings/myborrowings", f.member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	legacy := newFixture(t, func(o *Options) { o.EmptyHistoryNotFound = true })
	w = legacy.do(t, http.MethodGet, "/borrowings/myborrowings", legacy.member, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListBorrowingsForAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.RequestBorrow(ctx, "X", library.Borrower{ID: "u1", Name: "Ada", Email: "ada@example.org"})
	require.NoError(t, err)
	_, err = f.ledger.RequestBorrow(ctx, "Y", library.Borrower{ID: "u2", Name: "Bob", Email: "bob@example.org"})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/borrowings?q=BOB&status=pending&order=asc", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	views := decode[[]library.BorrowingView](t, w)
	require.Len(t, views, 1)
	assert.Equal(t, "Y", views[0].TitleID)

	w = f.do(t, http.MethodGet, "/borrowings/myborrowings", f.member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[[]library.BorrowingView](t, w)
	require.Len(t, mine, 1)
	assert.Equal(t, "X", mine[0].TitleID)
}

func TestStorageFailureIs503(t *testing.T) {
	db, err := library.NewDatabase(t.TempDir() + "/gw.db")
	require.NoError(t, err)
	ledger := library.NewLedger(db)
	_, err = ledger.AddTitle(context.Background(), library.TitleInfo{ID: "X", Title: "X"}, 1)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	issuer := auth.NewIssuer("test-secret", time.Hour)
	h := New(Options{Ledger: ledger, Queries: library.NewQueries(db), Issuer: issuer, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}).Handler()
	tok, err := issuer.Issue(auth.Account{ID: "u1", Role: auth.RoleMember})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/books/X/borrow", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
