package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-ledger/library"
)

func newShellCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive librarian console",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer mgr.Close()

			return runShell(cmd.Context(), mgr, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	return cmd
}

type shell struct {
	ctx context.Context
	mgr *library.Manager
	sc  *bufio.Scanner
	out io.Writer
}

func runShell(ctx context.Context, mgr *library.Manager, in io.Reader, out io.Writer) error {
	sh := &shell{ctx: ctx, mgr: mgr, sc: bufio.NewScanner(in), out: out}

	sh.println("Welcome to the Library Borrowing Ledger!")
	if titles, err := mgr.Queries.Titles(ctx); err == nil {
		sh.println(catalogSummary(titles))
	}
	sh.println("Available commands:")
	sh.println("  Catalog: add title, list titles, restock")
	sh.println("  Circulation: borrow, advance, status, history, list borrowings")
	sh.println("  System: exit")
	sh.println()
	sh.println("Tips:")
	sh.println("  • For 'advance': press Enter at the status prompt to move the record one step forward")

	for {
		fmt.Fprint(out, "\n> ")
		if !sh.sc.Scan() {
			break
		}
		cmd := strings.TrimSpace(sh.sc.Text())

		switch cmd {
		case "add title":
			sh.handleAddTitle()
		case "list titles":
			sh.handleListTitles()
		case "restock":
			sh.handleRestock()
		case "borrow":
			sh.handleBorrow()
		case "advance":
			sh.handleAdvance()
		case "status":
			sh.handleStatus()
		case "history":
			sh.handleHistory()
		case "list borrowings":
			sh.handleListBorrowings()
		case "":
			continue
		case "exit":
			sh.println("Goodbye!")
			return nil
		default:
			sh.println("Unknown command. Type one of the available commands listed above.")
		}
	}
	return sh.sc.Err()
}

func (sh *shell) println(a ...any) { fmt.Fprintln(sh.out, a...) }

func (sh *shell) printf(format string, a ...any) { fmt.Fprintf(sh.out, format, a...) }

// prompt asks for one field. ok is false once input is exhausted.
func (sh *shell) prompt(label string) (string, bool) {
	fmt.Fprint(sh.out, label)
	if !sh.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(sh.sc.Text()), true
}

func (sh *shell) handleAddTitle() {
	var info library.TitleInfo
	var ok bool
	if info.Title, ok = sh.prompt("Title: "); !ok {
		return
	}
	if info.Author, ok = sh.prompt("Author: "); !ok {
		return
	}
	if info.Genre, ok = sh.prompt("Genre (optional): "); !ok {
		return
	}
	copiesStr, ok := sh.prompt("Copies: ")
	if !ok {
		return
	}
	copies, err := strconv.Atoi(copiesStr)
	if err != nil {
		sh.printf("Invalid number of copies: %s\n", copiesStr)
		return
	}

	t, err := sh.mgr.Ledger.AddTitle(sh.ctx, info, copies)
	if err != nil {
		sh.printf("Error adding title: %v\n", err)
		return
	}
	sh.printf("Added title '%s' with ID %s (%d copies)\n", t.Title, t.ID, t.TotalCopies)
}

func (sh *shell) handleListTitles() {
	titles, err := sh.mgr.Queries.Titles(sh.ctx)
	if err != nil {
		sh.printf("Error: %v\n", err)
		return
	}
	printTitles(sh.out, titles)
}

func (sh *shell) handleRestock() {
	titleID, ok := sh.prompt("Title ID: ")
	if !ok {
		return
	}
	copiesStr, ok := sh.prompt("Copies to add: ")
	if !ok {
		return
	}
	copies, err := strconv.Atoi(copiesStr)
	if err != nil {
		sh.printf("Invalid number of copies: %s\n", copiesStr)
		return
	}

	t, err := sh.mgr.Ledger.Restock(sh.ctx, titleID, copies)
	if err != nil {
		sh.printf("Error restocking: %v\n", err)
		return
	}
	sh.printf("'%s' now has %d of %d copies available\n", t.Title, t.AvailableCopies, t.TotalCopies)
}

func (sh *shell) handleBorrow() {
	titleID, ok := sh.prompt("Title ID: ")
	if !ok {
		return
	}
	var b library.Borrower
	if b.ID, ok = sh.prompt("User ID: "); !ok {
		return
	}
	if b.Name, ok = sh.prompt("User name: "); !ok {
		return
	}
	if b.Email, ok = sh.prompt("User email (optional): "); !ok {
		return
	}

	rec, err := sh.mgr.Ledger.RequestBorrow(sh.ctx, titleID, b)
	if err != nil {
		sh.printf("Error borrowing: %v\n", err)
		return
	}
	sh.printf("Borrow request %s recorded for %s, due %s\n", rec.ID, rec.UserName, rec.DueDate.Format("2006-01-02"))
}

func (sh *shell) handleAdvance() {
	recordID, ok := sh.prompt("Record ID: ")
	if !ok {
		return
	}
	statusStr, ok := sh.prompt("New status (Enter for next): ")
	if !ok {
		return
	}

	target := library.Status(strings.ToLower(statusStr))
	if statusStr == "" {
		next, err := sh.nextStatus(recordID)
		if err != nil {
			sh.printf("Error: %v\n", err)
			return
		}
		target = next
	}

	res, err := sh.mgr.Ledger.ApplyTransitionByRecord(sh.ctx, recordID, target)
	if err != nil {
		sh.printf("Error changing status: %v\n", err)
		return
	}
	sh.printf("Record %s is now %s\n", res.Record.ID, res.Record.Status)
	if res.Record.Status == library.StatusReceived {
		sh.printf("Copy is back on the shelf (%d available)\n", res.AvailableCopies)
	}
}

func (sh *shell) nextStatus(recordID string) (library.Status, error) {
	titleID, err := sh.mgr.Store.TitleIDForRecord(sh.ctx, recordID)
	if err != nil {
		return "", err
	}
	t, err := sh.mgr.Queries.Title(sh.ctx, titleID)
	if err != nil {
		return "", err
	}
	rec, _ := t.Record(recordID)
	next, ok := rec.Status.Next()
	if !ok {
		return "", fmt.Errorf("record %s is %s and cannot move further", recordID, rec.Status)
	}
	return next, nil
}

func (sh *shell) handleStatus() {
	titleID, ok := sh.prompt("Title ID: ")
	if !ok {
		return
	}
	userID, ok := sh.prompt("User ID: ")
	if !ok {
		return
	}

	sv, err := sh.mgr.Queries.BorrowStatus(sh.ctx, titleID, userID)
	if err != nil {
		sh.printf("Error: %v\n", err)
		return
	}
	if sv.Status == "" {
		sh.printf("User %s has never borrowed this title. %d copies available.\n", userID, sv.RemainingCopies)
		return
	}
	sh.printf("Record %s: %s. %d copies available.\n", sv.BorrowingID, sv.Status, sv.RemainingCopies)
}

func (sh *shell) handleHistory() {
	userID, ok := sh.prompt("User ID: ")
	if !ok {
		return
	}
	views, err := sh.mgr.Queries.ListForUser(sh.ctx, userID)
	if err != nil {
		sh.printf("Error: %v\n", err)
		return
	}
	printViews(sh.out, views)
}

func (sh *shell) handleListBorrowings() {
	status, ok := sh.prompt("Status (optional): ")
	if !ok {
		return
	}
	text, ok := sh.prompt("Search (optional): ")
	if !ok {
		return
	}

	filter, err := library.ParseFilter(status, "", "", text)
	if err != nil {
		sh.printf("Error: %v\n", err)
		return
	}
	views, err := sh.mgr.Queries.ListAll(sh.ctx, filter, library.Sort{})
	if err != nil {
		sh.printf("Error: %v\n", err)
		return
	}
	printViews(sh.out, views)
}
