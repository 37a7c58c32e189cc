package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortEntries_ContainersFirst(t *testing.T) {
	entries := []resourceJSON{
		{Type: "file", Name: "b.txt"},
		{Type: "folder", Name: "Zeta"},
		{Type: "file", Name: "a.txt"},
		{Type: "folder", Name: "Alpha"},
	}

	sortEntries(entries)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}

	assert.Equal(t, []string{"Alpha", "Zeta", "a.txt", "b.txt"}, names)
}

func TestEntryRow(t *testing.T) {
	size := int64(1536)
	modified := time.Date(2020, time.June, 1, 12, 0, 0, 0, time.UTC)

	file := entryRow(resourceJSON{Type: "file", Name: "a.txt", Size: &size, ModifiedAt: modified.Format(time.RFC3339)})
	assert.Equal(t, "a.txt", file[0])
	assert.Equal(t, "1.5 KiB", file[1])
	assert.Contains(t, file[2], "2020")

	folder := entryRow(resourceJSON{Type: "folder", Name: "Reports"})
	assert.Equal(t, []string{"Reports/", "-", "-"}, folder)
}

func TestReportBatch(t *testing.T) {
	resetGlobals(t)
	flagQuiet = true

	outcomes := []error{nil, errors.New("boom"), nil}

	err := reportBatch(len(outcomes), func(i int) (string, error) {
		return "item", outcomes[i]
	}, "Uploaded")

	require.Error(t, err)
	assert.Equal(t, "1 of 3 transfers failed", err.Error())

	err = reportBatch(2, func(int) (string, error) { return "item", nil }, "Downloaded")
	assert.NoError(t, err)
}

func TestDriveRows(t *testing.T) {
	rows := driveRows([]driveJSON{
		{resourceJSON: resourceJSON{Name: "Documents"}, Used: 1536, Total: 1 << 30},
		{resourceJSON: resourceJSON{Name: "Archive"}, Used: 0, Total: 0},
	})

	assert.Equal(t, []string{"Documents", "1.5 KiB", "1.0 GiB"}, rows[0])
	assert.Equal(t, []string{"Archive", "0 B", "-"}, rows[1])
}
