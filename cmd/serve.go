package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"library-ledger/auth"
	"library-ledger/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the borrowing HTTP API",
		Long: `Starts the REST gateway over the ledger.

Accounts from the configuration file can log in at POST /auth/login and use
the returned bearer token on every other route.`,
		Example: `  # Start server on the configured address
  ledger serve --config ledger.yaml

  # Override the address
  ledger serve --addr :3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			mgr, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer mgr.Close()

			dir, err := auth.NewDirectory(a.cfg.Accounts)
			if err != nil {
				return err
			}
			if a.cfg.Auth.JWTSecret == "" {
				slog.Warn("auth.jwt_secret is empty; no token will validate")
			}

			gin.SetMode(gin.ReleaseMode)
			srv := server.New(server.Options{
				Ledger:               mgr.Ledger,
				Queries:              mgr.Queries,
				Directory:            dir,
				Issuer:               auth.NewIssuer(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL),
				Logger:               a.logger,
				AllowedOrigins:       a.cfg.Server.AllowedOrigins,
				EmptyHistoryNotFound: a.cfg.HTTP.EmptyHistoryNotFound,
			})

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Ledger API available", "addr", addr, "store", a.cfg.Store.Driver)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Address to listen on (defaults to server.addr)")

	return cmd
}
