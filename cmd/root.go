package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"library-ledger/config"
	"library-ledger/library"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Library borrowing ledger and inventory service",
		Long: `Ledger tracks how many copies of each title are on the shelf and the
borrowing records of every loan, from the first request until the copy is
received back.

It runs as an HTTP service (serve), as an interactive librarian console
(shell), or as one-shot commands for scripting.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.Log.NewLogger(os.Stderr)
			slog.SetDefault(a.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("LEDGER_CONFIG"), "Path to the YAML configuration file")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newShellCmd(a))
	cmd.AddCommand(newBorrowCmd(a))
	cmd.AddCommand(newAdvanceCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newExportCmd(a))
	cmd.AddCommand(newImportCmd(a))
	cmd.AddCommand(newTokenCmd(a))
	cmd.AddCommand(newHashPasswordCmd())

	return cmd
}

// open connects to the configured store.
func (a *app) open(ctx context.Context) (*library.Manager, error) {
	mgr, err := library.Open(ctx, a.cfg.Store.Driver, a.cfg.Store.DSN,
		library.WithLogger(a.logger),
		library.WithLoanPeriod(a.cfg.Ledger.LoanPeriod),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Store.Driver, err)
	}
	return mgr, nil
}
