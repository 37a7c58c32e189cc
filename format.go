package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/sharepoint-go/pkg/sharepoint"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatSize returns a binary-unit size such as "1.5 KiB".
func formatSize(bytes int64) string {
	if bytes < 0 {
		return "-"
	}

	return humanize.IBytes(uint64(bytes))
}

// formatTime returns a compact timestamp for listings.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	if t.Year() == time.Now().Year() {
		return t.Local().Format("Jan _2 15:04")
	}

	return t.Local().Format("Jan _2  2006")
}

// formatAge renders a time relative to now, e.g. "3 days ago".
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	return humanize.Time(t)
}

// resourceJSON is the JSON schema shared by ls, stat, sites and drives.
type resourceJSON struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	Path       string `json:"path,omitempty"`
	ID         string `json:"id,omitempty"`
	Size       *int64 `json:"size,omitempty"`
	ChildCount *int   `json:"child_count,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
	WebURL     string `json:"web_url,omitempty"`
}

func describe(r sharepoint.Resource) resourceJSON {
	out := resourceJSON{Name: r.Name(), WebURL: r.WebURL()}

	switch v := r.(type) {
	case *sharepoint.Site:
		out.Type = "site"
		out.ID = v.ID()
	case *sharepoint.Drive:
		out.Type = "drive"
		out.ID = v.ID()
	case *sharepoint.Folder:
		out.Type = "folder"
		out.ID = v.ID()
		out.Path = v.Path()

		if n := v.ChildCount(); n >= 0 {
			out.ChildCount = &n
		}
	case *sharepoint.File:
		out.Type = "file"
		out.ID = v.ID()
		out.Path = v.Path()
		size := v.Size()
		out.Size = &size

		if !v.ModifiedAt().IsZero() {
			out.ModifiedAt = v.ModifiedAt().UTC().Format(time.RFC3339)
		}
	}

	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// printTable writes aligned columns. headers and each row must have the
// same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}
