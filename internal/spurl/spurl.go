// Package spurl parses browser-copied SharePoint URLs into a Locator that
// names a site, a document library (drive) and an item path inside it.
//
// Segments are percent-decoded exactly once during parsing and re-encoded
// per segment when a Locator is rendered, so Parse(l.String()) == l.
package spurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Sentinels matched by the typed errors below via errors.Is.
var (
	ErrMalformedURL = errors.New("spurl: malformed SharePoint URL")
	ErrMissingSite  = errors.New("spurl: missing site segment")
)

// MalformedURLError reports a URL that is not a usable SharePoint URL.
type MalformedURLError struct {
	URL    string
	Reason string
}

func (e *MalformedURLError) Error() string {
	return fmt.Sprintf("spurl: malformed SharePoint URL %q: %s", e.URL, e.Reason)
}

func (e *MalformedURLError) Unwrap() error {
	return ErrMalformedURL
}

// MissingSiteError reports a SharePoint URL without a /sites/ or /teams/
// segment. No default site is ever assumed.
type MissingSiteError struct {
	URL string
}

func (e *MissingSiteError) Error() string {
	return fmt.Sprintf("spurl: no /sites/<name> or /teams/<name> segment in %q", e.URL)
}

func (e *MissingSiteError) Unwrap() error {
	return ErrMissingSite
}

const (
	onlineHostSuffix = ".sharepoint.com"
	viewPageFolder   = "forms"
	layoutsPrefix    = "_layouts"
)

// siteKinds are the path prefixes that introduce a site collection.
var siteKinds = map[string]string{
	"sites": "sites",
	"teams": "teams",
}

// Locator is the parsed form of a SharePoint URL. All path fields hold
// decoded, NFC-normalized text. It is comparable; equal URLs give equal
// Locators.
type Locator struct {
	Host      string // lowercased, e.g. "contoso.sharepoint.com"
	SitePath  string // "sites/Marketing" or "teams/Ops"
	DriveName string // library name as it appears in the URL; "" for the site itself
	ItemPath  string // slash-separated path inside the drive; "" for the drive root
	Share     string // the original URL when this is a sharing link
	dir       bool
}

// Parser parses SharePoint URLs. The zero value accepts only SharePoint
// Online hosts (*.sharepoint.com).
type Parser struct {
	hosts map[string]bool
}

// NewParser returns a Parser that also accepts the given on-premises hosts.
func NewParser(hosts ...string) *Parser {
	p := &Parser{hosts: make(map[string]bool, len(hosts))}
	for _, h := range hosts {
		p.hosts[strings.ToLower(strings.TrimSpace(h))] = true
	}

	return p
}

// Parse parses raw with a zero Parser.
func Parse(raw string) (Locator, error) {
	return (&Parser{}).Parse(raw)
}

// Parse turns a SharePoint web URL into a Locator. It never performs I/O.
func (p *Parser) Parse(raw string) (Locator, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Locator{}, &MalformedURLError{URL: raw, Reason: err.Error()}
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return Locator{}, &MalformedURLError{URL: raw, Reason: "scheme must be http or https"}
	}

	host := strings.ToLower(u.Hostname())
	if !p.acceptsHost(host) {
		return Locator{}, &MalformedURLError{URL: raw, Reason: fmt.Sprintf("host %q is not a SharePoint host", host)}
	}

	segments, err := decodeSegments(u.EscapedPath())
	if err != nil {
		return Locator{}, &MalformedURLError{URL: raw, Reason: err.Error()}
	}

	loc := Locator{Host: host, dir: strings.HasSuffix(u.EscapedPath(), "/")}

	if len(segments) > 0 && isShareMarker(segments[0]) {
		return p.parseShare(raw, loc, segments)
	}

	return finishPath(raw, loc, segments, u.Query())
}

func (p *Parser) acceptsHost(host string) bool {
	if host == "" {
		return false
	}

	return strings.HasSuffix(host, onlineHostSuffix) || p.hosts[host]
}

// parseShare handles sharing links such as /:x:/s/Team/EaBc...?e=xyz.
// Redirect links (/:x:/r/sites/...) carry a real path and are parsed as one.
func (p *Parser) parseShare(raw string, loc Locator, segments []string) (Locator, error) {
	if len(segments) < 2 {
		return Locator{}, &MalformedURLError{URL: raw, Reason: "sharing link has no target"}
	}

	switch strings.ToLower(segments[1]) {
	case "r":
		u, _ := url.Parse(raw) //nolint:errcheck // already parsed once by the caller
		return finishPath(raw, loc, segments[2:], u.Query())
	case "s":
		if len(segments) < 3 {
			return Locator{}, &MissingSiteError{URL: raw}
		}

		loc.SitePath = "sites/" + segments[2]
	case "t":
		if len(segments) < 3 {
			return Locator{}, &MissingSiteError{URL: raw}
		}

		loc.SitePath = "teams/" + segments[2]
	}

	loc.Share = strings.TrimSpace(raw)
	loc.dir = false

	return loc, nil
}

// finishPath interprets site, drive and item segments.
func finishPath(raw string, loc Locator, segments []string, query url.Values) (Locator, error) {
	if len(segments) < 2 {
		return Locator{}, &MissingSiteError{URL: raw}
	}

	kind, ok := siteKinds[strings.ToLower(segments[0])]
	if !ok {
		return Locator{}, &MissingSiteError{URL: raw}
	}

	loc.SitePath = kind + "/" + segments[1]
	rest := segments[2:]

	if len(rest) > 0 && strings.HasPrefix(strings.ToLower(rest[0]), layoutsPrefix) {
		return Locator{}, &MalformedURLError{URL: raw, Reason: "application pages are not addressable items"}
	}

	if isViewPage(rest) {
		rest = rest[:len(rest)-2]
		loc.dir = true

		// Library views carry the open folder in ?id=/sites/x/Lib/Folder.
		if id := query.Get("id"); id != "" {
			idSegments := splitClean(norm.NFC.String(id))
			if len(idSegments) >= 2 && strings.EqualFold(idSegments[0]+"/"+idSegments[1], loc.SitePath) {
				rest = idSegments[2:]
			}
		}
	}

	if len(rest) > 0 {
		loc.DriveName = rest[0]
		loc.ItemPath = strings.Join(rest[1:], "/")
	}

	return loc, nil
}

// isViewPage reports a trailing Forms/<view>.aspx pair.
func isViewPage(rest []string) bool {
	n := len(rest)

	return n >= 2 &&
		strings.EqualFold(rest[n-2], viewPageFolder) &&
		strings.HasSuffix(strings.ToLower(rest[n-1]), ".aspx")
}

// isShareMarker matches the ":x:" style segment that starts a sharing link.
func isShareMarker(seg string) bool {
	return len(seg) == 3 && seg[0] == ':' && seg[2] == ':'
}

// decodeSegments percent-decodes each path segment once and drops empties.
func decodeSegments(escaped string) ([]string, error) {
	var out []string

	for _, seg := range strings.Split(escaped, "/") {
		if seg == "" {
			continue
		}

		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return nil, fmt.Errorf("decoding segment %q: %w", seg, err)
		}

		out = append(out, norm.NFC.String(decoded))
	}

	return out, nil
}

func splitClean(p string) []string {
	var out []string

	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}

	return out
}

// EscapePath percent-encodes each segment of a decoded slash-separated path.
func EscapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// EncodeShareLink returns the sharing token accepted by /shares/{id}:
// "u!" followed by the unpadded base64url form of the URL.
func EncodeShareLink(raw string) string {
	return "u!" + base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// IsShare reports whether the Locator came from a sharing link.
func (l Locator) IsShare() bool {
	return l.Share != ""
}

// IsDir reports whether the URL ended in a slash or a library view page,
// meaning the caller named a folder rather than a file.
func (l Locator) IsDir() bool {
	return l.dir
}

// IsSite reports a URL that names only the site.
func (l Locator) IsSite() bool {
	return !l.IsShare() && l.DriveName == ""
}

// IsDriveRoot reports a URL that names a library but no item in it.
func (l Locator) IsDriveRoot() bool {
	return !l.IsShare() && l.DriveName != "" && l.ItemPath == ""
}

// SiteName returns the last segment of SitePath.
func (l Locator) SiteName() string {
	return path.Base(l.SitePath)
}

// Name returns the last path segment: the item name, the drive name, or
// the site name, whichever is deepest.
func (l Locator) Name() string {
	switch {
	case l.ItemPath != "":
		return path.Base(l.ItemPath)
	case l.DriveName != "":
		return l.DriveName
	default:
		return l.SiteName()
	}
}

// Join returns a Locator for name inside l. The result names a file.
func (l Locator) Join(name string) Locator {
	out := l
	out.dir = false

	switch {
	case out.DriveName == "":
		out.DriveName = name
	case out.ItemPath == "":
		out.ItemPath = name
	default:
		out.ItemPath = out.ItemPath + "/" + name
	}

	return out
}

// Parent returns the Locator one segment up, marked as a folder.
func (l Locator) Parent() Locator {
	out := l
	out.dir = true

	switch {
	case out.ItemPath != "":
		parent := path.Dir(out.ItemPath)
		if parent == "." {
			parent = ""
		}

		out.ItemPath = parent
	case out.DriveName != "":
		out.DriveName = ""
	}

	return out
}

// String renders the canonical https URL with each segment re-encoded.
// Sharing links render as the original link.
func (l Locator) String() string {
	if l.IsShare() {
		return l.Share
	}

	parts := []string{l.SitePath}
	if l.DriveName != "" {
		parts = append(parts, l.DriveName)
	}

	if l.ItemPath != "" {
		parts = append(parts, l.ItemPath)
	}

	s := "https://" + l.Host + "/" + EscapePath(strings.Join(parts, "/"))
	if l.dir {
		s += "/"
	}

	return s
}
