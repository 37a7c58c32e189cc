package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonimelisma/sharepoint-go/internal/spurl"
)

// siteResponse mirrors the Graph API site JSON response.
type siteResponse struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	DisplayName          string `json:"displayName"`
	WebURL               string `json:"webUrl"`
	CreatedDateTime      string `json:"createdDateTime"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
	SiteCollection       *struct {
		Hostname string `json:"hostname"`
	} `json:"siteCollection"`
}

func (s *siteResponse) toSite(logger *slog.Logger) (Site, error) {
	if s.ID == "" {
		return Site{}, fmt.Errorf("graph: site %q has no id: %w", s.WebURL, ErrMalformedResponse)
	}

	site := Site{
		ID:          s.ID,
		Name:        s.Name,
		DisplayName: s.DisplayName,
		WebURL:      s.WebURL,
		CreatedAt:   parseTimestamp(s.CreatedDateTime, "createdDateTime", s.ID, logger),
		ModifiedAt:  parseTimestamp(s.LastModifiedDateTime, "lastModifiedDateTime", s.ID, logger),
	}

	if s.SiteCollection != nil {
		site.Hostname = s.SiteCollection.Hostname
	}

	return site, nil
}

// SearchSites returns sites matching query lazily.
func (c *Client) SearchSites(ctx context.Context, query string) iter.Seq2[Site, error] {
	c.logger.Debug("searching sites", slog.String("query", query))

	return paginate(ctx, c, "/sites?search="+url.QueryEscape(query), "sites", func(r *siteResponse) (Site, error) {
		return r.toSite(c.logger)
	})
}

// GetSite returns a site by its composite ID.
func (c *Client) GetSite(ctx context.Context, siteID string) (*Site, error) {
	return c.fetchSite(ctx, fmt.Sprintf("/sites/%s", siteID))
}

// GetSiteByPath resolves a site from its host and decoded server-relative
// path ("sites/Marketing"). When the direct lookup is not found the site is
// searched for by name and matched against its web URL.
func (c *Client) GetSiteByPath(ctx context.Context, host, sitePath string) (*Site, error) {
	sitePath = strings.Trim(sitePath, "/")

	c.logger.Debug("resolving site",
		slog.String("host", host),
		slog.String("site_path", sitePath),
	)

	site, err := c.fetchSite(ctx, fmt.Sprintf("/sites/%s:/%s", host, spurl.EscapePath(sitePath)))
	if err == nil || !errors.Is(err, ErrNotFound) {
		return site, err
	}

	c.logger.Info("site not found by path, falling back to search",
		slog.String("host", host),
		slog.String("site_path", sitePath),
	)

	name := sitePath[strings.LastIndex(sitePath, "/")+1:]

	for s, searchErr := range c.SearchSites(ctx, name) {
		if searchErr != nil {
			return nil, searchErr
		}

		if siteURLMatches(s.WebURL, host, sitePath) {
			return &s, nil
		}
	}

	return nil, fmt.Errorf("graph: site %s/%s: %w", host, sitePath, ErrNotFound)
}

func (c *Client) fetchSite(ctx context.Context, apiPath string) (*Site, error) {
	resp, err := c.Do(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}

	var sr siteResponse
	if err := decodeJSON(resp, "site", &sr); err != nil {
		return nil, err
	}

	site, err := sr.toSite(c.logger)
	if err != nil {
		return nil, err
	}

	return &site, nil
}

// siteURLMatches compares a site's webUrl with host and decoded site path.
func siteURLMatches(webURL, host, sitePath string) bool {
	u, err := url.Parse(webURL)
	if err != nil {
		return false
	}

	return strings.EqualFold(u.Hostname(), host) &&
		strings.EqualFold(strings.Trim(u.Path, "/"), sitePath)
}
