package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/sharepoint-go/internal/spurl"
)

// ResolveShare returns the drive item a sharing link points to.
func (c *Client) ResolveShare(ctx context.Context, shareURL string) (*Item, error) {
	c.logger.Debug("resolving sharing link", slog.String("url", shareURL))

	item, err := c.fetchItem(ctx, fmt.Sprintf("/shares/%s/driveItem", spurl.EncodeShareLink(shareURL)))
	if err != nil {
		return nil, fmt.Errorf("graph: resolving sharing link %s: %w", shareURL, err)
	}

	return item, nil
}
