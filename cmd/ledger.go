package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"library-ledger/library"
)

func newBorrowCmd(a *app) *cobra.Command {
	var b library.Borrower

	cmd := &cobra.Command{
		Use:   "borrow <title-id>",
		Short: "Request a copy of a title for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer mgr.Close()

			rec, err := mgr.Ledger.RequestBorrow(cmd.Context(), args[0], b)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Record %s created (%s), due %s\n", rec.ID, rec.Status, rec.DueDate.Format("2006-01-02"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&b.ID, "user", "u", "", "Borrower user id")
	cmd.Flags().StringVar(&b.Name, "name", "", "Borrower display name")
	cmd.Flags().StringVar(&b.Email, "email", "", "Borrower email")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newAdvanceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance <record-id> <status>",
		Short: "Move a borrowing record to its next status",
		Long: `Moves a borrowing record along pending -> borrowed -> returned -> received.
Receiving the copy puts it back on the shelf.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer mgr.Close()

			res, err := mgr.Ledger.ApplyTransitionByRecord(cmd.Context(), args[0], library.Status(strings.ToLower(args[1])))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Record %s is now %s; %d copies available\n", res.Record.ID, res.Record.Status, res.AvailableCopies)
			return nil
		},
	}
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "List a user's borrowings, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer mgr.Close()

			views, err := mgr.Queries.ListForUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printViews(cmd.OutOrStdout(), views)
			return nil
		},
	}
	return cmd
}

// listFlags are the filter and sort options shared by list and export.
type listFlags struct {
	status, start, end, text string
	sort, order              string
}

func (f *listFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.status, "status", "", "Only records in this status")
	cmd.Flags().StringVar(&f.start, "start", "", "Earliest borrow date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&f.end, "end", "", "Latest borrow date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVarP(&f.text, "query", "q", "", "Text to match in title, user name or email")
	cmd.Flags().StringVar(&f.sort, "sort", "borrowDate", "Sort field: borrowDate, status, returnDate, dueDate")
	cmd.Flags().StringVar(&f.order, "order", "desc", "Sort order: asc or desc")
}

func (f *listFlags) parse() (library.Filter, library.Sort, error) {
	filter, err := library.ParseFilter(f.status, f.start, f.end, f.text)
	if err != nil {
		return library.Filter{}, library.Sort{}, err
	}
	sort, err := library.ParseSort(f.sort, f.order)
	if err != nil {
		return library.Filter{}, library.Sort{}, err
	}
	return filter, sort, nil
}

func newListCmd(a *app) *cobra.Command {
	var (
		flags  listFlags
		titles bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List borrowings across all users, or the catalog with --titles",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer mgr.Close()

			if titles {
				all, err := mgr.Queries.Titles(cmd.Context())
				if err != nil {
					return err
				}
				printTitles(cmd.OutOrStdout(), all)
				return nil
			}

			filter, sort, err := flags.parse()
			if err != nil {
				return err
			}
			views, err := mgr.Queries.ListAll(cmd.Context(), filter, sort)
			if err != nil {
				return err
			}
			printViews(cmd.OutOrStdout(), views)
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().BoolVar(&titles, "titles", false, "List titles and copy counts instead of borrowings")

	return cmd
}

func printViews(w io.Writer, views []library.BorrowingView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No borrowings found.")
		return
	}
	fmt.Fprintf(w, "%-36s %-30s %-20s %-9s %-10s %-10s %-10s\n", "Record", "Title", "User", "Status", "Borrowed", "Due", "Returned")
	fmt.Fprintln(w, strings.Repeat("-", 133))
	for _, v := range views {
		fmt.Fprintln(w, library.PrettyView(v))
	}
}

func printTitles(w io.Writer, titles []library.Title) {
	if len(titles) == 0 {
		fmt.Fprintln(w, "No titles in library.")
		return
	}
	fmt.Fprintf(w, "%-36s %-30s %-25s %s\n", "ID", "Title", "Author", "Avail/Total")
	fmt.Fprintln(w, strings.Repeat("-", 105))
	for _, t := range titles {
		fmt.Fprintln(w, library.PrettyTitle(t))
	}
}
