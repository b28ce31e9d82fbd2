package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"library-ledger/auth"
	"library-ledger/library"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type borrowRequest struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
}

type statusRequest struct {
	TargetStatus string `json:"targetStatus" binding:"required"`
	UserID       string `json:"userId"`
}

type titleSummary struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Genre           string `json:"genre"`
	TotalCopies     int    `json:"totalCopies"`
	AvailableCopies int    `json:"availableCopies"`
}

func summarize(t library.Title) titleSummary {
	return titleSummary{
		ID:              t.ID,
		Title:           t.Title,
		Author:          t.Author,
		Genre:           t.Genre,
		TotalCopies:     t.TotalCopies,
		AvailableCopies: t.AvailableCopies,
	}
}

// login handles POST /auth/login
func (s *Server) login(ctx *gin.Context) {
	var req loginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortWithError(ctx, http.StatusBadRequest, "InvalidArgument", err.Error())
		return
	}
	if s.directory == nil {
		abortWithError(ctx, http.StatusUnauthorized, "Unauthorized", auth.ErrInvalidCredentials.Error())
		return
	}

	account, err := s.directory.Authenticate(req.Email, req.Password)
	if err != nil {
		abortWithError(ctx, http.StatusUnauthorized, "Unauthorized", err.Error())
		return
	}
	token, err := s.issuer.Issue(account)
	if err != nil {
		s.logger.Error("issue token", "user_id", account.ID, "error", err)
		abortWithError(ctx, http.StatusInternalServerError, "Internal", "could not issue token")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"token": token})
}

// listTitles handles GET /books
func (s *Server) listTitles(ctx *gin.Context) {
	titles, err := s.queries.Titles(ctx.Request.Context())
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	out := make([]titleSummary, 0, len(titles))
	for _, t := range titles {
		out = append(out, summarize(t))
	}
	ctx.JSON(http.StatusOK, out)
}

// getTitle handles GET /books/:titleId
func (s *Server) getTitle(ctx *gin.Context) {
	t, err := s.queries.Title(ctx.Request.Context(), ctx.Param("titleId"))
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, summarize(*t))
}

// borrow handles POST /books/:titleId/borrow. Members borrow for themselves;
// admins may name another user.
func (s *Server) borrow(ctx *gin.Context) {
	var req borrowRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(ctx, http.StatusBadRequest, "InvalidArgument", err.Error())
		return
	}

	claims := currentClaims(ctx)
	b := library.Borrower{ID: req.UserID, Name: req.UserName, Email: req.UserEmail}
	switch {
	case b.ID == "" || b.ID == claims.ID:
		b = library.Borrower{ID: claims.ID, Name: claims.Name, Email: claims.Email}
		if req.UserName != "" {
			b.Name = req.UserName
		}
	case !claims.IsAdmin():
		abortWithError(ctx, http.StatusForbidden, "Forbidden", "cannot borrow on behalf of another user")
		return
	}

	rec, err := s.ledger.RequestBorrow(ctx.Request.Context(), ctx.Param("titleId"), b)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, rec)
}

// borrowStatus handles GET /books/:titleId/borrow-status?userId=
func (s *Server) borrowStatus(ctx *gin.Context) {
	userID := strings.TrimSpace(ctx.Query("userId"))
	if userID == "" {
		abortWithError(ctx, http.StatusBadRequest, "InvalidArgument", "userId is required")
		return
	}
	if claims := currentClaims(ctx); userID != claims.ID && !claims.IsAdmin() {
		abortWithError(ctx, http.StatusForbidden, "Forbidden", "cannot query another user's borrowing")
		return
	}

	sv, err := s.queries.BorrowStatus(ctx.Request.Context(), ctx.Param("titleId"), userID)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, sv)
}

// updateBorrowStatus handles PUT/PATCH /books/:titleId/borrow-status
func (s *Server) updateBorrowStatus(ctx *gin.Context) {
	var req statusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortWithError(ctx, http.StatusBadRequest, "InvalidArgument", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		abortWithError(ctx, http.StatusBadRequest, "InvalidArgument", "userId is required")
		return
	}

	res, err := s.ledger.AdvanceForUser(ctx.Request.Context(), ctx.Param("titleId"), req.UserID, targetStatus(req.TargetStatus))
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

// updateRecord handles PUT/PATCH /borrowings/:recordId
func (s *Server) updateRecord(ctx *gin.Context) {
	var req statusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortWithError(ctx, http.StatusBadRequest, "InvalidArgument", err.Error())
		return
	}

	res, err := s.ledger.ApplyTransitionByRecord(ctx.Request.Context(), ctx.Param("recordId"), targetStatus(req.TargetStatus))
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

// myBorrowings handles GET /borrowings/myborrowings
func (s *Server) myBorrowings(ctx *gin.Context) {
	views, err := s.queries.ListForUser(ctx.Request.Context(), currentClaims(ctx).ID)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	if len(views) == 0 && s.emptyHistoryNotFound {
		abortWithError(ctx, http.StatusNotFound, "NotFound", "no borrowings found for this user")
		return
	}
	ctx.JSON(http.StatusOK, views)
}

// listBorrowings handles GET /borrowings?sort=&order=&status=&start=&end=&q=
func (s *Server) listBorrowings(ctx *gin.Context) {
	sort, err := library.ParseSort(ctx.Query("sort"), ctx.Query("order"))
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	filter, err := library.ParseFilter(ctx.Query("status"), ctx.Query("start"), ctx.Query("end"), ctx.Query("q"))
	if err != nil {
		s.writeError(ctx, err)
		return
	}

	views, err := s.queries.ListAll(ctx.Request.Context(), filter, sort)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, views)
}

// targetStatus normalizes the requested status. Unknown names are passed on
// and rejected by the ledger as invalid transitions.
func targetStatus(raw string) library.Status {
	return library.Status(strings.ToLower(strings.TrimSpace(raw)))
}

func (s *Server) writeError(ctx *gin.Context, err error) {
	var abe *library.AlreadyBorrowedError
	switch {
	case errors.As(err, &abe):
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":       err.Error(),
			"code":        "AlreadyBorrowed",
			"status":      abe.Status,
			"borrowingId": abe.RecordID,
		})
	case errors.Is(err, library.ErrNotFound):
		abortWithError(ctx, http.StatusNotFound, "NotFound", err.Error())
	case errors.Is(err, library.ErrOutOfStock):
		abortWithError(ctx, http.StatusBadRequest, "OutOfStock", err.Error())
	case errors.Is(err, library.ErrInvalidTransition):
		abortWithError(ctx, http.StatusBadRequest, "InvalidTransition", err.Error())
	case errors.Is(err, library.ErrInvalidArgument):
		abortWithError(ctx, http.StatusBadRequest, "InvalidArgument", err.Error())
	case errors.Is(err, library.ErrStorageUnavailable):
		s.logger.Error("storage unavailable", "path", ctx.Request.URL.Path, "error", err)
		abortWithError(ctx, http.StatusServiceUnavailable, "StorageUnavailable", "storage unavailable, try again later")
	default:
		s.logger.Error("unhandled error", "path", ctx.Request.URL.Path, "error", err)
		abortWithError(ctx, http.StatusInternalServerError, "Internal", "internal error")
	}
}
