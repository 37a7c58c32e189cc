// Package sharepoint is a convenience client for SharePoint document
// libraries over Microsoft Graph. Callers work with browser-copied SharePoint
// URLs: Upload and Download move files, and Path returns a handle (Site,
// Drive, Folder or File) for browsing.
//
// Client blocks the calling goroutine; AsyncClient runs the same operations
// in the background and returns a Future for each.
package sharepoint

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/sharepoint-go/internal/config"
	"github.com/tonimelisma/sharepoint-go/internal/graph"
	"github.com/tonimelisma/sharepoint-go/internal/spurl"
	"github.com/tonimelisma/sharepoint-go/internal/transfer"
)

// Settings is the resolved client configuration. Build it with
// config.Resolve, or by hand; zero API fields fall back to the Graph
// defaults.
type Settings = config.Settings

// UploadOptions selects streaming and overwrite behavior for an upload.
type UploadOptions = transfer.UploadOptions

// DownloadOptions selects streaming and overwrite behavior for a download.
type DownloadOptions = transfer.DownloadOptions

const (
	defaultParallel = 4
	dialKeepAlive   = 30 * time.Second
)

// Option customizes New.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	tokenURL      string
	newHTTPClient func() *http.Client
}

// WithLogger sets the logger for the client and everything under it.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTokenURL overrides the identity platform token endpoint.
func WithTokenURL(u string) Option {
	return func(o *options) { o.tokenURL = u }
}

// WithHTTPClient supplies the factory used whenever the client needs a
// fresh transport, for both Graph calls and token exchange.
func WithHTTPClient(newClient func() *http.Client) Option {
	return func(o *options) { o.newHTTPClient = newClient }
}

// Client is the blocking SharePoint client. It is safe for concurrent use.
type Client struct {
	settings Settings
	logger   *slog.Logger
	session  *graph.Session
	api      *graph.Client
	parser   *spurl.Parser
	engine   *transfer.Engine
	store    *transfer.SessionStore
	parallel int
}

// New builds a Client. Missing credentials fail here, before any network
// call. No token is fetched until the first request.
func New(settings Settings, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := settings.CheckCredentials(); err != nil {
		return nil, fmt.Errorf("sharepoint: %w", err)
	}

	settings = withDefaults(settings)

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	newHTTPClient := o.newHTTPClient
	if newHTTPClient == nil {
		newHTTPClient = transportFactory(settings)
	}

	limiter, err := transfer.NewBandwidthLimiter(settings.BandwidthLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("sharepoint: %w", err)
	}

	creds := graph.NewClientCredentials(settings.TenantID, settings.AppID, settings.AppSecret,
		settings.Scope(), o.tokenURL, newHTTPClient(), logger)
	session := graph.NewSession(creds, settings.IdleTimeout, newHTTPClient, logger)
	api := graph.NewClient(settings.GraphBaseURL(), session, logger, settings.MaxRetries)

	var store *transfer.SessionStore

	if settings.SessionDB != "" {
		store, err = transfer.OpenSessionStore(context.Background(), settings.SessionDB, logger)
		if err != nil {
			logger.Warn("sharepoint: upload sessions will not survive restarts",
				slog.String("session_db", settings.SessionDB),
				slog.String("error", err.Error()),
			)

			store = nil
		}
	}

	engine := transfer.NewEngine(api, transfer.Options{
		Threshold: settings.LargeFileThreshold,
		ChunkSize: settings.ChunkSize,
		Limiter:   limiter,
		Store:     store,
		Logger:    logger,
	})

	logger.Debug("sharepoint: client ready", slog.String("settings", settings.String()))

	return &Client{
		settings: settings,
		logger:   logger,
		session:  session,
		api:      api,
		parser:   spurl.NewParser(settings.SharePointHosts...),
		engine:   engine,
		store:    store,
		parallel: settings.ParallelTransfers,
	}, nil
}

func withDefaults(s Settings) Settings {
	if s.ResourceURL == "" {
		s.ResourceURL = config.DefaultResourceURL
	}

	if s.APIVersion == "" {
		s.APIVersion = config.DefaultAPIVersion
	}

	if s.ParallelTransfers <= 0 {
		s.ParallelTransfers = defaultParallel
	}

	return s
}

// transportFactory returns a constructor for HTTP clients honoring the
// connect and data timeouts. Whole-request timeouts are left to the
// caller's context because transfers can run for hours.
func transportFactory(s Settings) func() *http.Client {
	return func() *http.Client {
		t := http.DefaultTransport.(*http.Transport).Clone()

		if s.ConnectTimeout > 0 {
			t.DialContext = (&net.Dialer{Timeout: s.ConnectTimeout, KeepAlive: dialKeepAlive}).DialContext
			t.TLSHandshakeTimeout = s.ConnectTimeout
		}

		if s.DataTimeout > 0 {
			t.ResponseHeaderTimeout = s.DataTimeout
		}

		return &http.Client{Transport: t}
	}
}

// Settings returns the effective settings.
func (c *Client) Settings() Settings {
	return c.settings
}

// Close releases the HTTP transport and the upload session store.
func (c *Client) Close() error {
	c.session.Close()

	if c.store != nil {
		return c.store.Close()
	}

	return nil
}

// Path resolves a SharePoint URL to a *Site, *Drive, *Folder or *File,
// depending on what the URL names. Parse errors surface before any request.
func (c *Client) Path(ctx context.Context, rawURL string) (Resource, error) {
	loc, err := c.parser.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	return c.resolve(ctx, loc)
}

func (c *Client) resolve(ctx context.Context, loc spurl.Locator) (Resource, error) {
	if loc.IsShare() {
		return c.resolveShare(ctx, loc)
	}

	site, err := c.site(ctx, loc)
	if err != nil {
		return nil, err
	}

	if loc.IsSite() {
		return site, nil
	}

	drive, err := site.Drive(ctx, loc.DriveName)
	if err != nil {
		return nil, err
	}

	if loc.IsDriveRoot() {
		return drive, nil
	}

	item, err := c.api.GetItemByPath(ctx, drive.ID(), loc.ItemPath)
	if err != nil {
		return nil, err
	}

	return drive.wrap(*item, nil, loc.ItemPath), nil
}

func (c *Client) site(ctx context.Context, loc spurl.Locator) (*Site, error) {
	s, err := c.api.GetSiteByPath(ctx, loc.Host, loc.SitePath)
	if err != nil {
		return nil, err
	}

	return &Site{client: c, site: *s}, nil
}

func (c *Client) resolveShare(ctx context.Context, loc spurl.Locator) (Resource, error) {
	item, err := c.api.ResolveShare(ctx, loc.Share)
	if err != nil {
		return nil, err
	}

	d, err := c.api.GetDrive(ctx, item.DriveID)
	if err != nil {
		return nil, err
	}

	drive := &Drive{client: c, drive: *d}

	return drive.wrap(*item, nil, ""), nil
}

// Sites searches the tenant's sites lazily.
func (c *Client) Sites(ctx context.Context, query string) iter.Seq2[*Site, error] {
	return func(yield func(*Site, error) bool) {
		for s, err := range c.api.SearchSites(ctx, query) {
			if err != nil {
				yield(nil, err)

				return
			}

			if !yield(&Site{client: c, site: s}, nil) {
				return
			}
		}
	}
}

// Upload sends the file at localPath to destURL. A URL naming a folder (or
// ending in "/") keeps the local file name; any other URL names the remote
// file. An existing remote file fails with *DestinationExistsError unless
// opts.Overwrite is set.
func (c *Client) Upload(ctx context.Context, localPath, destURL string, opts UploadOptions) (*File, error) {
	loc, err := c.parser.Parse(destURL)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("sharepoint: upload %s: %w", localPath, err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("sharepoint: upload %s: %w", localPath, transfer.ErrNotRegularFile)
	}

	folder, name, err := c.uploadDestination(ctx, loc, filepath.Base(localPath))
	if err != nil {
		return nil, err
	}

	return folder.uploadAs(ctx, localPath, name, opts)
}

// uploadDestination picks the folder and remote name an upload lands on.
func (c *Client) uploadDestination(ctx context.Context, loc spurl.Locator, localName string) (*Folder, string, error) {
	if loc.IsSite() {
		return nil, "", fmt.Errorf("sharepoint: upload to %s: names a site, not a folder: %w", loc, ErrNotFolder)
	}

	if loc.IsShare() {
		r, err := c.resolveShare(ctx, loc)
		if err != nil {
			return nil, "", err
		}

		folder, ok := r.(*Folder)
		if !ok {
			return nil, "", fmt.Errorf("sharepoint: upload to %s: %w", loc, ErrNotFolder)
		}

		return folder, localName, nil
	}

	site, err := c.site(ctx, loc)
	if err != nil {
		return nil, "", err
	}

	drive, err := site.Drive(ctx, loc.DriveName)
	if err != nil {
		return nil, "", err
	}

	item, err := c.api.GetItemByPath(ctx, drive.ID(), loc.ItemPath)

	switch {
	case err == nil && item.IsFolder:
		return drive.wrap(*item, nil, loc.ItemPath).(*Folder), localName, nil
	case err == nil && loc.IsDir():
		return nil, "", fmt.Errorf("sharepoint: upload to %s: %w", loc, ErrNotFolder)
	case err == nil:
		file := drive.wrap(*item, nil, loc.ItemPath).(*File)

		return file.parentFolder(), item.Name, nil
	case errors.Is(err, graph.ErrNotFound) && !loc.IsDir():
		parentLoc := loc.Parent()

		parent, perr := c.api.GetItemByPath(ctx, drive.ID(), parentLoc.ItemPath)
		if perr != nil {
			return nil, "", perr
		}

		if !parent.IsFolder {
			return nil, "", fmt.Errorf("sharepoint: upload to %s: %w", parentLoc, ErrNotFolder)
		}

		return drive.wrap(*parent, nil, parentLoc.ItemPath).(*Folder), loc.Name(), nil
	default:
		return nil, "", err
	}
}

// Download fetches the file srcURL names into target. A target that is a
// directory, or ends in a separator, keeps the remote file name. An existing
// local file fails with *DestinationExistsError before any request unless
// opts.Overwrite is set. It returns the path written.
func (c *Client) Download(ctx context.Context, srcURL, target string, opts DownloadOptions) (string, error) {
	loc, err := c.parser.Parse(srcURL)
	if err != nil {
		return "", err
	}

	if !loc.IsShare() {
		if loc.ItemPath == "" {
			return "", fmt.Errorf("sharepoint: download %s: %w", loc, ErrNotFile)
		}

		if _, err := transfer.LocalTarget(target, loc.Name(), opts.Overwrite); err != nil {
			return "", err
		}
	}

	r, err := c.resolve(ctx, loc)
	if err != nil {
		return "", err
	}

	file, ok := r.(*File)
	if !ok {
		return "", fmt.Errorf("sharepoint: download %s: %w", loc, ErrNotFile)
	}

	return file.Download(ctx, target, opts)
}
