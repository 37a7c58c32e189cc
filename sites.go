package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/sharepoint-go/pkg/sharepoint"
)

var errNotSite = errors.New("URL does not name a site")

func newSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites [query]",
		Short: "Search the tenant's sites",
		Long: `List the sites the application can see. An optional query narrows the
search by name.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSites,
	}
}

func newDrivesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drives <site-url>",
		Short: "List a site's document libraries with quota",
		Args:  cobra.ExactArgs(1),
		RunE:  runDrives,
	}
}

func runSites(cmd *cobra.Command, args []string) error {
	query := ""
	if len(args) > 0 {
		query = args[0]
	}

	client, logger, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	logger.Debug("sites", "query", query)

	var entries []resourceJSON

	for site, err := range client.Sites(cmd.Context(), query) {
		if err != nil {
			return fmt.Errorf("searching sites: %w", err)
		}

		entries = append(entries, describe(site))
	}

	if flagJSON {
		return printJSON(os.Stdout, entries)
	}

	if len(entries) == 0 {
		statusf("No sites found.\n")

		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.Name, e.WebURL})
	}

	printTable(os.Stdout, []string{"NAME", "URL"}, rows)

	return nil
}

// driveJSON extends the shared resource schema with quota figures.
type driveJSON struct {
	resourceJSON
	Used  int64 `json:"used"`
	Total int64 `json:"total"`
}

func runDrives(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()

	r, err := client.Path(ctx, args[0])
	if err != nil {
		return err
	}

	site, ok := r.(*sharepoint.Site)
	if !ok {
		return fmt.Errorf("%s: %w (got %s)", args[0], errNotSite, r)
	}

	drives, err := site.Drives(ctx)
	if err != nil {
		return err
	}

	out := make([]driveJSON, 0, len(drives))
	for _, d := range drives {
		used, total := d.Quota()
		out = append(out, driveJSON{resourceJSON: describe(d), Used: used, Total: total})
	}

	if flagJSON {
		return printJSON(os.Stdout, out)
	}

	printTable(os.Stdout, []string{"NAME", "USED", "TOTAL"}, driveRows(out))

	return nil
}

func driveRows(drives []driveJSON) [][]string {
	rows := make([][]string, 0, len(drives))
	for _, d := range drives {
		total := "-"
		if d.Total > 0 {
			total = formatSize(d.Total)
		}

		rows = append(rows, []string{d.Name, formatSize(d.Used), total})
	}

	return rows
}
