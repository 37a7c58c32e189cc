package graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"
)

// ClientCredentials exchanges an Entra ID application's id and secret for
// an app-only access token (OAuth2 client credentials grant).
type ClientCredentials struct {
	TenantID string
	AppID    string

	cfg        *clientcredentials.Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClientCredentials returns an exchanger for the given app registration.
// scope is "<resource>/.default". tokenURL overrides the Entra ID token
// endpoint (tests point it at an httptest server); empty means the real one.
// httpClient carries the token request; nil means http.DefaultClient.
func NewClientCredentials(
	tenantID, appID, appSecret, scope, tokenURL string, httpClient *http.Client, logger *slog.Logger,
) *ClientCredentials {
	if logger == nil {
		logger = slog.Default()
	}

	if tokenURL == "" {
		tokenURL = microsoft.AzureADEndpoint(tenantID).TokenURL
	}

	return &ClientCredentials{
		TenantID: tenantID,
		AppID:    appID,
		cfg: &clientcredentials.Config{
			ClientID:     appID,
			ClientSecret: appSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{scope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		logger:     logger,
	}
}

// Exchange performs one token request. Failures the identity platform
// reports come back as *oauth2.RetrieveError.
func (c *ClientCredentials) Exchange(ctx context.Context) (*oauth2.Token, error) {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	c.logger.Debug("requesting app-only token",
		slog.String("tenant_id", c.TenantID),
		slog.String("app_id", c.AppID),
	)

	tok, err := c.cfg.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: client credentials exchange for app %s: %w", c.AppID, err)
	}

	return tok, nil
}
