package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/tonimelisma/sharepoint-go/internal/spurl"
)

// ChunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// All chunks except the final one must be a multiple of this value.
const ChunkAlignment = 320 * 1024

// sessionPath stands in for pre-authenticated upload URLs in logs and errors.
const sessionPath = "(upload session)"

// UploadTarget names where an upload lands and what happens if an item with
// that name already exists.
type UploadTarget struct {
	DriveID  string
	ParentID string
	Name     string
	Conflict ConflictBehavior
}

func (t UploadTarget) conflict() ConflictBehavior {
	if t.Conflict == "" {
		return ConflictFail
	}

	return t.Conflict
}

func (t UploadTarget) itemPath() string {
	return fmt.Sprintf("/drives/%s/items/%s:/%s:", t.DriveID, t.ParentID, spurl.EscapePath(t.Name))
}

// Upload session request/response types for Graph API JSON serialization.
type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string          `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
	Name             string          `json:"name,omitempty"`
	FileSystemInfo   *fileSystemInfo `json:"fileSystemInfo,omitempty"`
}

// fileSystemInfo preserves the local modification time on upload.
type fileSystemInfo struct {
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
}

// uploadSessionResponse is the JSON shape returned when creating or
// querying an upload session.
type uploadSessionResponse struct {
	UploadURL          string   `json:"uploadUrl"`
	ExpirationDateTime string   `json:"expirationDateTime"`
	NextExpectedRanges []string `json:"nextExpectedRanges"`
}

// SimpleUpload uploads content in a single PUT request. The content type is
// guessed from the name's extension. Seekable readers are replayed on
// transient failures; other readers are sent once.
func (c *Client) SimpleUpload(ctx context.Context, target UploadTarget, r io.Reader, size int64) (*Item, error) {
	c.logger.Info("simple upload",
		slog.String("drive_id", target.DriveID),
		slog.String("parent_id", target.ParentID),
		slog.String("name", target.Name),
		slog.Int64("size", size),
		slog.String("conflict", string(target.conflict())),
	)

	apiPath := target.itemPath() + "/content?@microsoft.graph.conflictBehavior=" + string(target.conflict())

	contentType := mime.TypeByExtension(path.Ext(target.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, err := c.send(ctx, &request{
		method: http.MethodPut,
		url:    c.baseURL + apiPath,
		path:   apiPath,
		body:   r,
		size:   size,
		header: http.Header{"Content-Type": {contentType}},
	})
	if err != nil {
		return nil, err
	}

	return c.decodeItem(resp, "simple upload")
}

// CreateUploadSession creates a resumable upload session for a file.
// The returned UploadSession contains a pre-authenticated upload URL.
// When mtime is non-zero, fileSystemInfo is included in the request to
// preserve the local modification timestamp on the server.
func (c *Client) CreateUploadSession(
	ctx context.Context, target UploadTarget, size int64, mtime time.Time,
) (*UploadSession, error) {
	c.logger.Info("creating upload session",
		slog.String("drive_id", target.DriveID),
		slog.String("parent_id", target.ParentID),
		slog.String("name", target.Name),
		slog.Int64("size", size),
		slog.String("conflict", string(target.conflict())),
	)

	item := uploadSessionItem{ConflictBehavior: string(target.conflict())}
	if !mtime.IsZero() {
		item.FileSystemInfo = &fileSystemInfo{
			LastModifiedDateTime: mtime.UTC().Format(time.RFC3339),
		}
	}

	bodyBytes, err := json.Marshal(createUploadSessionRequest{Item: item})
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling upload session request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, target.itemPath()+"/createUploadSession", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}

	var usr uploadSessionResponse
	if err := decodeJSON(resp, "upload session", &usr); err != nil {
		return nil, err
	}

	if usr.UploadURL == "" {
		return nil, fmt.Errorf("graph: upload session for %q has no upload URL: %w", target.Name, ErrMalformedResponse)
	}

	session := &UploadSession{
		UploadURL:      usr.UploadURL,
		ExpirationTime: c.parseExpiration(usr.ExpirationDateTime),
	}

	c.logger.Debug("upload session created",
		slog.Time("expires", session.ExpirationTime),
	)

	return session, nil
}

// UploadChunk uploads a chunk of data to an upload session.
// Returns the completed Item on the final chunk (201/200), nil for intermediate chunks (202).
// offset is the byte offset, length is the chunk size, total is the full file size.
// The session URL is pre-authenticated, so no Authorization header is sent.
// The chunk is sent once; callers resume through QueryUploadSession.
func (c *Client) UploadChunk(
	ctx context.Context, session *UploadSession, chunk io.Reader,
	offset, length, total int64,
) (*Item, error) {
	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("length", length),
		slog.Int64("total", total),
	)

	resp, err := c.send(ctx, &request{
		method: http.MethodPut,
		url:    session.UploadURL,
		path:   sessionPath,
		body:   chunk,
		size:   length,
		header: http.Header{
			"Content-Range": {fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total)},
			"Content-Type":  {"application/octet-stream"},
		},
		anonymous: true,
		noRetry:   true,
	})
	if err != nil {
		return nil, err
	}

	return c.handleChunkResponse(resp)
}

// handleChunkResponse processes a successful chunk upload response.
// 202 Accepted means intermediate chunk; 200/201 means upload complete with item data.
func (c *Client) handleChunkResponse(resp *http.Response) (*Item, error) {
	if resp.StatusCode == http.StatusAccepted {
		defer resp.Body.Close()

		// Drain body to reuse connection.
		if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
			return nil, fmt.Errorf("graph: draining chunk response body: %w", drainErr)
		}

		return nil, nil
	}

	item, err := c.decodeItem(resp, "final chunk")
	if err != nil {
		return nil, err
	}

	c.logger.Debug("upload complete",
		slog.String("item_id", item.ID),
		slog.String("item_name", item.Name),
	)

	return item, nil
}

// QueryUploadSession queries an upload session's status to determine
// which byte ranges have been accepted. Used for resume after interruption.
// The session URL is pre-authenticated, so no Authorization header is sent.
func (c *Client) QueryUploadSession(
	ctx context.Context, session *UploadSession,
) (*UploadSessionStatus, error) {
	c.logger.Debug("querying upload session status")

	resp, err := c.send(ctx, &request{
		method:    http.MethodGet,
		url:       session.UploadURL,
		path:      sessionPath,
		size:      -1,
		anonymous: true,
	})
	if err != nil {
		return nil, err
	}

	var ssr uploadSessionResponse
	if err := decodeJSON(resp, "session status", &ssr); err != nil {
		return nil, err
	}

	status := &UploadSessionStatus{
		UploadURL:          ssr.UploadURL,
		ExpirationTime:     c.parseExpiration(ssr.ExpirationDateTime),
		NextExpectedRanges: ssr.NextExpectedRanges,
	}

	c.logger.Debug("upload session status",
		slog.Int("pending_ranges", len(status.NextExpectedRanges)),
	)

	return status, nil
}

func (c *Client) decodeItem(resp *http.Response, what string) (*Item, error) {
	var dir driveItemResponse
	if err := decodeJSON(resp, what, &dir); err != nil {
		return nil, err
	}

	item, err := dir.toItem(c.logger)
	if err != nil {
		return nil, err
	}

	return &item, nil
}

func (c *Client) parseExpiration(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.logger.Warn("invalid upload session expiration, using zero time",
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Time{}
	}

	return t
}
