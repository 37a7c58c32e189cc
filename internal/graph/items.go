package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/sharepoint-go/internal/spurl"
)

// listChildrenPageSize is the $top value for children requests.
// 200 is the maximum allowed by the Graph API for drive item collections.
const listChildrenPageSize = 200

// Timestamp validation bounds. Timestamps outside this range are dropped
// (zero time) and a warning is logged.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// ErrStreamConsumed is yielded when a lazy listing is ranged over a second
// time. Listings are forward-only; call the listing method again instead.
var ErrStreamConsumed = errors.New("graph: listing already consumed")

// driveItemResponse mirrors the Graph API driveItem JSON exactly.
// Unexported; callers use Item via toItem() normalization.
type driveItemResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	ETag                 string           `json:"eTag"`
	CTag                 string           `json:"cTag"`
	WebURL               string           `json:"webUrl"`
	CreatedDateTime      string           `json:"createdDateTime"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	ParentReference      *parentRef       `json:"parentReference"`
	File                 *fileFacet       `json:"file"`
	Folder               *folderFacet     `json:"folder"`
	Package              *json.RawMessage `json:"package"`
	DownloadURL          string           `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph API annotation key
}

type parentRef struct {
	ID      string `json:"id"`
	DriveID string `json:"driveId"`
	Path    string `json:"path"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA256Hash   string `json:"sha256Hash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

// collection is one page of any Graph collection response.
type collection[R any] struct {
	Value    []R    `json:"value"`
	NextLink string `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

// toItem normalizes a Graph API driveItem response into our Item type.
// A response without an id is rejected rather than turned into an empty item.
func (d *driveItemResponse) toItem(logger *slog.Logger) (Item, error) {
	if d.ID == "" {
		return Item{}, fmt.Errorf("graph: drive item %q has no id: %w", d.Name, ErrMalformedResponse)
	}

	item := Item{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		ETag:        d.ETag,
		CTag:        d.CTag,
		WebURL:      d.WebURL,
		IsFolder:    d.Folder != nil,
		IsPackage:   d.Package != nil,
		ChildCount:  ChildCountUnknown,
		DownloadURL: d.DownloadURL,
	}

	// SharePoint drive IDs are case-sensitive base64; keep them verbatim.
	if d.ParentReference != nil {
		item.DriveID = d.ParentReference.DriveID
		item.ParentID = d.ParentReference.ID
		item.ParentPath = d.ParentReference.Path
	}

	if d.Folder != nil {
		item.ChildCount = d.Folder.ChildCount
	}

	// File hashes, nil-safe at each level
	if d.File != nil {
		item.MimeType = d.File.MimeType

		if d.File.Hashes != nil {
			item.QuickXorHash = d.File.Hashes.QuickXorHash
			item.SHA256Hash = d.File.Hashes.SHA256Hash
		}
	}

	item.CreatedAt = parseTimestamp(d.CreatedDateTime, "createdDateTime", d.ID, logger)
	item.ModifiedAt = parseTimestamp(d.LastModifiedDateTime, "lastModifiedDateTime", d.ID, logger)

	return item, nil
}

// parseTimestamp parses an RFC3339 timestamp and validates the year range.
// Missing, invalid or out-of-range timestamps yield the zero time.
func parseTimestamp(raw, field, id string, logger *slog.Logger) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp, ignoring",
			slog.String("field", field),
			slog.String("id", id),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Time{}
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range, ignoring",
			slog.String("field", field),
			slog.String("id", id),
			slog.String("raw", raw),
		)

		return time.Time{}
	}

	return t
}

// decodeJSON decodes a successful response body into v and closes it.
func decodeJSON(resp *http.Response, what string, v any) error {
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("graph: decoding %s response: %w: %w", what, ErrMalformedResponse, err)
	}

	return nil
}

// fetchItem fetches a single drive item from the given API path and decodes it.
func (c *Client) fetchItem(ctx context.Context, apiPath string) (*Item, error) {
	resp, err := c.Do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}

	var dir driveItemResponse
	if err := decodeJSON(resp, "item", &dir); err != nil {
		return nil, err
	}

	item, err := dir.toItem(c.logger)
	if err != nil {
		return nil, err
	}

	return &item, nil
}

// GetItem retrieves a single drive item by ID.
func (c *Client) GetItem(ctx context.Context, driveID, itemID string) (*Item, error) {
	c.logger.Debug("getting item",
		slog.String("drive_id", driveID),
		slog.String("item_id", itemID),
	)

	return c.fetchItem(ctx, fmt.Sprintf("/drives/%s/items/%s", driveID, itemID))
}

// GetItemByPath retrieves a drive item by its decoded path relative to the
// drive root. An empty path returns the root folder.
func (c *Client) GetItemByPath(ctx context.Context, driveID, remotePath string) (*Item, error) {
	remotePath = strings.Trim(remotePath, "/")

	c.logger.Debug("getting item by path",
		slog.String("drive_id", driveID),
		slog.String("path", remotePath),
	)

	if remotePath == "" {
		return c.fetchItem(ctx, fmt.Sprintf("/drives/%s/root", driveID))
	}

	return c.fetchItem(ctx, fmt.Sprintf("/drives/%s/root:/%s:", driveID, spurl.EscapePath(remotePath)))
}

// ChildByName retrieves the item called name directly inside folderID.
func (c *Client) ChildByName(ctx context.Context, driveID, folderID, name string) (*Item, error) {
	return c.fetchItem(ctx, fmt.Sprintf("/drives/%s/items/%s:/%s:", driveID, folderID, spurl.EscapePath(name)))
}

// Children lists the children of a folder lazily. Pages are fetched only as
// the caller ranges; the sequence can be ranged once.
func (c *Client) Children(ctx context.Context, driveID, folderID string) iter.Seq2[Item, error] {
	path := fmt.Sprintf("/drives/%s/items/%s/children?$top=%d", driveID, folderID, listChildrenPageSize)

	c.logger.Debug("listing children",
		slog.String("drive_id", driveID),
		slog.String("folder_id", folderID),
	)

	return paginate(ctx, c, path, "children", func(r *driveItemResponse) (Item, error) {
		return r.toItem(c.logger)
	})
}

// paginate follows @odata.nextLink from path, converting each raw value.
// The returned sequence stops at the first error, after yielding it.
func paginate[R, T any](
	ctx context.Context, c *Client, path, what string, convert func(*R) (T, error),
) iter.Seq2[T, error] {
	var consumed atomic.Bool

	return func(yield func(T, error) bool) {
		var zero T

		if consumed.Swap(true) {
			yield(zero, ErrStreamConsumed)
			return
		}

		for page := 1; path != ""; page++ {
			values, next, err := fetchPage[R](ctx, c, path, what)
			if err != nil {
				yield(zero, err)
				return
			}

			c.logger.Debug("fetched page",
				slog.String("collection", what),
				slog.Int("page", page),
				slog.Int("count", len(values)),
			)

			for i := range values {
				v, convErr := convert(&values[i])
				if !yield(v, convErr) || convErr != nil {
					return
				}
			}

			path = next
		}
	}
}

func fetchPage[R any](ctx context.Context, c *Client, path, what string) ([]R, string, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}

	var page collection[R]
	if err := decodeJSON(resp, what, &page); err != nil {
		return nil, "", err
	}

	if page.NextLink == "" {
		return page.Value, "", nil
	}

	next, err := c.stripBaseURL(page.NextLink)
	if err != nil {
		return nil, "", err
	}

	return page.Value, next, nil
}

