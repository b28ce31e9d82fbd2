// Package server is the HTTP gateway over the borrowing ledger.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"library-ledger/auth"
	"library-ledger/library"
)

// Options wires the gateway to its collaborators.
type Options struct {
	Ledger    *library.Ledger
	Queries   *library.Queries
	Directory *auth.Directory
	Issuer    *auth.Issuer
	Logger    *slog.Logger

	AllowedOrigins []string
	// EmptyHistoryNotFound keeps the old 404 for a user without borrowings.
	EmptyHistoryNotFound bool
}

// Server holds the handlers of the gateway.
type Server struct {
	ledger    *library.Ledger
	queries   *library.Queries
	directory *auth.Directory
	issuer    *auth.Issuer
	logger    *slog.Logger

	allowedOrigins       []string
	emptyHistoryNotFound bool
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:               opts.Ledger,
		queries:              opts.Queries,
		directory:            opts.Directory,
		issuer:               opts.Issuer,
		logger:               logger,
		allowedOrigins:       opts.AllowedOrigins,
		emptyHistoryNotFound: opts.EmptyHistoryNotFound,
	}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger))
	if len(s.allowedOrigins) > 0 {
		router.Use(setupCORS(s.allowedOrigins))
	}

	router.GET("/healthcheck", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.POST("/auth/login", s.login)

	protected := router.Group("/")
	protected.Use(authMiddleware(s.issuer))
	{
		books := protected.Group("/books")
		books.GET("", s.listTitles)
		books.GET("/:titleId", s.getTitle)
		books.POST("/:titleId/borrow", s.borrow)
		books.GET("/:titleId/borrow-status", s.borrowStatus)
		books.PUT("/:titleId/borrow-status", requireAdmin(), s.updateBorrowStatus)
		books.PATCH("/:titleId/borrow-status", requireAdmin(), s.updateBorrowStatus)

		borrowings := protected.Group("/borrowings")
		borrowings.GET("/myborrowings", s.myBorrowings)
		borrowings.GET("", requireAdmin(), s.listBorrowings)
		borrowings.PUT("/:recordId", requireAdmin(), s.updateRecord)
		borrowings.PATCH("/:recordId", requireAdmin(), s.updateRecord)
	}

	return router
}
