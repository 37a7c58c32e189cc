// Package graph talks to the Microsoft Graph API on behalf of a SharePoint
// client: sites, drives, drive items, sharing links, upload sessions and
// downloads. It owns token lifecycle (Session), retry with exponential
// backoff, and classification of HTTP failures into sentinel errors.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, graph.ErrNotFound) to check.
var (
	ErrBadRequest          = errors.New("graph: bad request")
	ErrUnauthorized        = errors.New("graph: unauthorized")
	ErrForbidden           = errors.New("graph: forbidden")
	ErrNotFound            = errors.New("graph: not found")
	ErrConflict            = errors.New("graph: conflict")
	ErrGone                = errors.New("graph: resource gone")
	ErrThrottled           = errors.New("graph: throttled")
	ErrLocked              = errors.New("graph: resource locked")
	ErrServerError         = errors.New("graph: server error")
	ErrRangeNotSatisfiable = errors.New("graph: requested range not satisfiable")
	ErrAuthentication      = errors.New("graph: authentication failed")
	ErrMalformedResponse   = errors.New("graph: malformed response")
	ErrAmbiguousDrive      = errors.New("graph: library name matches more than one drive")
)

// GraphError is a non-2xx Graph response. Message is the server's error
// message verbatim; Err is the sentinel for errors.Is.
type GraphError struct {
	StatusCode int
	Method     string
	Path       string
	RequestID  string
	Code       string
	Message    string
	Err        error
}

func (e *GraphError) Error() string {
	var b strings.Builder

	b.WriteString("graph: ")

	if e.Method != "" {
		fmt.Fprintf(&b, "%s %s: ", e.Method, e.Path)
	}

	fmt.Fprintf(&b, "HTTP %d", e.StatusCode)

	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request-id: %s)", e.RequestID)
	}

	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}

	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}

	return b.String()
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

// AuthenticationError reports a credential exchange the identity platform
// rejected. It is never retried.
type AuthenticationError struct {
	TenantID string
	AppID    string
	Reason   string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("graph: authentication failed for app %s in tenant %s: %s", e.AppID, e.TenantID, e.Reason)
}

func (e *AuthenticationError) Unwrap() []error {
	return []error{ErrAuthentication, e.Err}
}

// errorBody is the standard Graph error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newGraphError builds a GraphError from a failed response body. When the
// body is a Graph error envelope its code and message are used, otherwise
// the raw body is kept as the message.
func newGraphError(resp *http.Response, method, path string, body []byte) *GraphError {
	ge := &GraphError{
		StatusCode: resp.StatusCode,
		Method:     method,
		Path:       path,
		RequestID:  resp.Header.Get("request-id"),
		Message:    strings.TrimSpace(string(body)),
		Err:        classifyStatus(resp.StatusCode),
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		ge.Code = eb.Error.Code
		ge.Message = eb.Error.Message
	}

	return ge
}

// classifyStatus maps an HTTP status code to a sentinel error. 503 is how
// SharePoint signals load shedding, so it is reported as throttling.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return ErrThrottled
	case http.StatusLocked:
		return ErrLocked
	case http.StatusRequestedRangeNotSatisfiable:
		return ErrRangeNotSatisfiable
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// statusBandwidthExceeded is SharePoint's 509 Bandwidth Limit Exceeded.
const statusBandwidthExceeded = 509

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		statusBandwidthExceeded:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err is worth retrying: a retryable HTTP
// status, a transport failure, or a truncated body.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ge *GraphError
	if errors.As(err, &ge) {
		return isRetryable(ge.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF)
}
