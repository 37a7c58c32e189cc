package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/sharepoint-go/pkg/sharepoint"
)

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path>... <url>",
		Short: "Upload files",
		Long: `Upload one or more local files to SharePoint.

A URL naming a folder (or ending in "/") keeps each local file name. With a
single file, any other URL names the remote file. Existing remote files are
left alone unless --overwrite is given.`,
		Args: cobra.MinimumNArgs(2), //nolint:mnd // at least one file and the URL
		RunE: runPut,
	}

	cmd.Flags().Bool("stream", false, "always use a resumable upload session")
	cmd.Flags().Bool("overwrite", false, "replace existing remote files")

	return cmd
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <url> [local-path]",
		Short: "Download a file",
		Long: `Download a SharePoint file. The local path defaults to the current
directory; a directory keeps the remote file name. Existing local files are
left alone unless --overwrite is given.`,
		Args: cobra.RangeArgs(1, 2), //nolint:mnd // url and optional target
		RunE: runGet,
	}

	cmd.Flags().Bool("stream", false, "always stream the content to disk")
	cmd.Flags().Bool("overwrite", false, "replace an existing local file")

	return cmd
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <url>",
		Short: "List a site's libraries or a folder's contents",
		Args:  cobra.ExactArgs(1),
		RunE:  runLs,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <url>",
		Short: "Display metadata for whatever a URL names",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func runPut(cmd *cobra.Command, args []string) error {
	stream, _ := cmd.Flags().GetBool("stream")       //nolint:errcheck // flag is registered
	overwrite, _ := cmd.Flags().GetBool("overwrite") //nolint:errcheck // flag is registered
	opts := sharepoint.UploadOptions{Stream: stream, Overwrite: overwrite}

	locals, dest := args[:len(args)-1], args[len(args)-1]

	client, logger, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()

	if len(locals) == 1 {
		logger.Debug("put", "local_path", locals[0], "url", dest)

		file, err := client.Upload(ctx, locals[0], dest, opts)
		if err != nil {
			return err
		}

		statusf("Uploaded %s (%s)\n", file.Path(), formatSize(file.Size()))

		return nil
	}

	reqs := make([]sharepoint.UploadRequest, 0, len(locals))
	for _, p := range locals {
		reqs = append(reqs, sharepoint.UploadRequest{LocalPath: p, DestURL: dest, Options: opts})
	}

	results, err := client.UploadMany(ctx, reqs)
	if err != nil {
		return err
	}

	return reportBatch(len(results), func(i int) (string, error) {
		if results[i].Err != nil {
			return results[i].Request.LocalPath, results[i].Err
		}

		return fmt.Sprintf("%s (%s)", results[i].File.Path(), formatSize(results[i].File.Size())), nil
	}, "Uploaded")
}

// reportBatch prints one line per result and fails when any item failed.
func reportBatch(n int, result func(i int) (string, error), verb string) error {
	failed := 0

	for i := range n {
		what, err := result(i)
		if err != nil {
			failed++

			fmt.Fprintf(os.Stderr, "Failed %s: %v\n", what, err)

			continue
		}

		statusf("%s %s\n", verb, what)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, n)
	}

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	stream, _ := cmd.Flags().GetBool("stream")       //nolint:errcheck // flag is registered
	overwrite, _ := cmd.Flags().GetBool("overwrite") //nolint:errcheck // flag is registered

	target := "."
	if len(args) > 1 {
		target = args[1]
	}

	client, logger, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	logger.Debug("get", "url", args[0], "target", target)

	dest, err := client.Download(cmd.Context(), args[0], target,
		sharepoint.DownloadOptions{Stream: stream, Overwrite: overwrite})
	if err != nil {
		return err
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("stat after download: %w", err)
	}

	statusf("Downloaded %s (%s)\n", dest, formatSize(fi.Size()))

	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	entries, err := listEntries(cmd.Context(), client, args[0])
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, entries)
	}

	sortEntries(entries)

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, entryRow(e))
	}

	printTable(os.Stdout, []string{"NAME", "SIZE", "MODIFIED"}, rows)

	return nil
}

// listEntries returns what ls shows for url: a site's libraries, a
// library's or folder's children, or the file itself.
func listEntries(ctx context.Context, client *sharepoint.Client, url string) ([]resourceJSON, error) {
	r, err := client.Path(ctx, url)
	if err != nil {
		return nil, err
	}

	var folder *sharepoint.Folder

	switch v := r.(type) {
	case *sharepoint.Site:
		drives, err := v.Drives(ctx)
		if err != nil {
			return nil, err
		}

		out := make([]resourceJSON, 0, len(drives))
		for _, d := range drives {
			out = append(out, describe(d))
		}

		return out, nil
	case *sharepoint.Drive:
		if folder, err = v.Root(ctx); err != nil {
			return nil, err
		}
	case *sharepoint.Folder:
		folder = v
	default:
		return []resourceJSON{describe(r)}, nil
	}

	var out []resourceJSON

	for child, err := range folder.Children(ctx) {
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", url, err)
		}

		out = append(out, describe(child))
	}

	return out, nil
}

// sortEntries puts containers first, then sorts by name.
func sortEntries(entries []resourceJSON) {
	sort.SliceStable(entries, func(i, j int) bool {
		ci, cj := entries[i].Type != "file", entries[j].Type != "file"
		if ci != cj {
			return ci
		}

		return entries[i].Name < entries[j].Name
	})
}

func entryRow(e resourceJSON) []string {
	name, size, modified := e.Name, "-", "-"

	if e.Type != "file" {
		name += "/"
	}

	if e.Size != nil {
		size = formatSize(*e.Size)
	}

	if t, err := time.Parse(time.RFC3339, e.ModifiedAt); err == nil {
		modified = formatTime(t)
	}

	return []string{name, size, modified}
}

func runStat(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	r, err := client.Path(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, describe(r))
	}

	printStat(r)

	return nil
}

func printStat(r sharepoint.Resource) {
	d := describe(r)

	fmt.Printf("Name:     %s\n", d.Name)
	fmt.Printf("Type:     %s\n", d.Type)

	if d.Path != "" {
		fmt.Printf("Path:     %s\n", d.Path)
	}

	if d.ID != "" {
		fmt.Printf("ID:       %s\n", d.ID)
	}

	if d.Size != nil {
		fmt.Printf("Size:     %s (%d bytes)\n", formatSize(*d.Size), *d.Size)
	}

	if d.ChildCount != nil {
		fmt.Printf("Children: %d\n", *d.ChildCount)
	}

	if f, ok := r.(*sharepoint.File); ok {
		fmt.Printf("Modified: %s (%s)\n", formatTime(f.ModifiedAt()), formatAge(f.ModifiedAt()))

		if f.QuickXorHash() != "" {
			fmt.Printf("Hash:     %s\n", f.QuickXorHash())
		}
	}

	if d.WebURL != "" {
		fmt.Printf("URL:      %s\n", d.WebURL)
	}

	if p := r.Parent(); p != nil {
		fmt.Printf("Parent:   %s\n", p)
	}
}
