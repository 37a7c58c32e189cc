package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// driveResponse mirrors the Graph API drive JSON response.
// Unexported; callers use Drive via toDrive() normalization.
type driveResponse struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	DriveType string      `json:"driveType"`
	WebURL    string      `json:"webUrl"`
	Owner     *ownerFacet `json:"owner"`
	Quota     *quotaFacet `json:"quota"`
}

// ownerFacet represents the owner block in a Graph API drive response.
// Site libraries are owned by a group or the site rather than a user.
type ownerFacet struct {
	User  *identity `json:"user"`
	Group *identity `json:"group"`
}

type identity struct {
	DisplayName string `json:"displayName"`
}

// quotaFacet represents the quota block in a Graph API drive response.
type quotaFacet struct {
	Used  int64 `json:"used"`
	Total int64 `json:"total"`
}

// toDrive normalizes a Graph API drive response into our Drive type.
// Nil-safe for optional owner and quota facets.
func (d *driveResponse) toDrive() (Drive, error) {
	if d.ID == "" {
		return Drive{}, fmt.Errorf("graph: drive %q has no id: %w", d.Name, ErrMalformedResponse)
	}

	drive := Drive{
		ID:        d.ID,
		Name:      d.Name,
		DriveType: d.DriveType,
		WebURL:    d.WebURL,
	}

	if d.Owner != nil {
		switch {
		case d.Owner.User != nil:
			drive.OwnerName = d.Owner.User.DisplayName
		case d.Owner.Group != nil:
			drive.OwnerName = d.Owner.Group.DisplayName
		}
	}

	if d.Quota != nil {
		drive.QuotaUsed = d.Quota.Used
		drive.QuotaTotal = d.Quota.Total
	}

	return drive, nil
}

// libraryName returns the decoded last segment of the drive's webUrl, which
// is the name browser URLs use ("Shared Documents" for "Documents").
func (d Drive) libraryName() string {
	u, err := url.Parse(d.WebURL)
	if err != nil || u.Path == "" {
		return ""
	}

	return path.Base(u.Path)
}

// Matches reports whether name refers to this drive by display name or by
// the library segment of its web URL, ignoring case.
func (d Drive) Matches(name string) bool {
	return d.matchesName(name) || d.matchesLibrary(name)
}

func (d Drive) matchesName(name string) bool { return strings.EqualFold(d.Name, name) }

func (d Drive) matchesLibrary(name string) bool { return strings.EqualFold(d.libraryName(), name) }

// ListDrives returns the document libraries of a site.
func (c *Client) ListDrives(ctx context.Context, siteID string) ([]Drive, error) {
	c.logger.Debug("listing site drives", slog.String("site_id", siteID))

	var drives []Drive

	seq := paginate(ctx, c, fmt.Sprintf("/sites/%s/drives", siteID), "drives", (*driveResponse).toDrive)
	for drive, err := range seq {
		if err != nil {
			return nil, err
		}

		drives = append(drives, drive)
	}

	c.logger.Debug("listed drives",
		slog.String("site_id", siteID),
		slog.Int("count", len(drives)),
	)

	return drives, nil
}

// GetDrive returns a specific drive by ID.
func (c *Client) GetDrive(ctx context.Context, driveID string) (*Drive, error) {
	c.logger.Debug("fetching drive", slog.String("drive_id", driveID))

	resp, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/drives/%s", driveID), nil)
	if err != nil {
		return nil, err
	}

	var dr driveResponse
	if err := decodeJSON(resp, "drive", &dr); err != nil {
		return nil, err
	}

	drive, err := dr.toDrive()
	if err != nil {
		return nil, err
	}

	return &drive, nil
}

// FindDrive returns the drive of siteID that name refers to. A display-name
// match wins over a URL-segment match. No match wraps ErrNotFound; two
// drives matching at the same level wrap ErrAmbiguousDrive.
func (c *Client) FindDrive(ctx context.Context, siteID, name string) (*Drive, error) {
	drives, err := c.ListDrives(ctx, siteID)
	if err != nil {
		return nil, err
	}

	for _, match := range []func(Drive, string) bool{Drive.matchesName, Drive.matchesLibrary} {
		var found []int

		for i := range drives {
			if match(drives[i], name) {
				found = append(found, i)
			}
		}

		switch len(found) {
		case 0:
			continue
		case 1:
			return &drives[found[0]], nil
		default:
			return nil, fmt.Errorf("graph: document library %q in site %s matches %d drives: %w",
				name, siteID, len(found), ErrAmbiguousDrive)
		}
	}

	return nil, fmt.Errorf("graph: document library %q in site %s: %w", name, siteID, ErrNotFound)
}
