package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"library-ledger/library"
)

// catalogEntry is one title in a catalog file.
type catalogEntry struct {
	library.TitleInfo `yaml:",inline"`
	Copies            int `yaml:"copies"`
}

type catalogFile struct {
	Titles []catalogEntry `yaml:"titles"`
}

func readCatalog(path string) ([]catalogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	var c catalogFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return c.Titles, nil
}

// importCatalog adds every entry, reporting progress to out. Entries that fail
// are counted and skipped.
func importCatalog(ctx context.Context, mgr *library.Manager, entries []catalogEntry, out io.Writer) (imported, failed int) {
	for _, e := range entries {
		fmt.Fprintf(out, "Importing: %s by %s... ", e.Title, e.Author)

		t, err := mgr.Ledger.AddTitle(ctx, e.TitleInfo, e.Copies)
		if err != nil {
			fmt.Fprintf(out, "ERROR - %v\n", err)
			failed++
			continue
		}

		fmt.Fprintf(out, "SUCCESS (ID: %s)\n", t.ID)
		imported++
	}
	return imported, failed
}

func newImportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <catalog.yaml>",
		Short: "Add the titles listed in a YAML catalog",
		Example: `  # catalog.yaml
  titles:
    - id: dune
      title: Dune
      author: Frank Herbert
      genre: science fiction
      copies: 3

  ledger import catalog.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readCatalog(args[0])
			if err != nil {
				return err
			}

			mgr, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer mgr.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Importing %d titles from %s...\n", len(entries), args[0])
			imported, failed := importCatalog(cmd.Context(), mgr, entries, out)

			fmt.Fprintf(out, "\nImport complete!\n")
			fmt.Fprintf(out, "Successfully imported: %d titles\n", imported)
			fmt.Fprintf(out, "Errors: %d\n", failed)

			if imported > 0 {
				titles, err := mgr.Queries.Titles(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "\nCatalog:")
				printTitles(out, titles)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d titles could not be imported", failed, len(entries))
			}
			return nil
		},
	}
	return cmd
}

// catalogSummary describes the catalog in one line for the shell banner.
func catalogSummary(titles []library.Title) string {
	if len(titles) == 0 {
		return "The catalog is empty. Use 'add title' to get started."
	}
	var total, available int
	for _, t := range titles {
		total += t.TotalCopies
		available += t.AvailableCopies
	}
	return fmt.Sprintf("%d titles, %d of %d copies on the shelf", len(titles), available, total)
}
