package sharepoint

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/sharepoint-go/internal/graph"
	"github.com/tonimelisma/sharepoint-go/pkg/quickxorhash"
)

const (
	testHost     = "contoso.sharepoint.com"
	testSitePath = "sites/Marketing"
	testSiteID   = "contoso.sharepoint.com,11111111,22222222"
	testDriveID  = "b!Drive1AbC" // mixed case: drive IDs are case-sensitive
	testToken    = "test-access-token"
	siteURL      = "https://" + testHost + "/" + testSitePath
	libraryURL   = siteURL + "/Shared%20Documents"
)

// fakeItem is a file or folder in the fake document library.
type fakeItem struct {
	id       string
	name     string
	parentID string
	folder   bool
	data     []byte
	modified time.Time
}

type fakeUpload struct {
	parentID string
	name     string
	conflict string
	total    int64
	data     []byte
}

// fakeGraph serves the slice of Graph one SharePoint site with a single
// document library needs: token, site, drives, items, children with
// paging, simple and session uploads, downloads and sharing links.
type fakeGraph struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	items    map[string]*fakeItem
	uploads  map[string]*fakeUpload
	shares   map[string]string // sharing URL -> item id
	nextID   int
	pageSize int

	tokenCalls   atomic.Int32
	apiCalls     atomic.Int32
	simplePuts   atomic.Int32
	sessionPosts atomic.Int32
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()

	g := &fakeGraph{
		t:        t,
		items:    map[string]*fakeItem{"root": {id: "root", name: "root", folder: true}},
		uploads:  make(map[string]*fakeUpload),
		shares:   make(map[string]string),
		pageSize: 200,
	}

	g.srv = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.srv.Close)

	return g
}

// settings points a client at the fake with a 1 KiB threshold and
// 320 KiB chunks.
func (g *fakeGraph) settings() Settings {
	return Settings{
		TenantID:           "tenant",
		AppID:              "app",
		AppSecret:          "secret",
		ResourceURL:        g.srv.URL,
		APIVersion:         "v1.0",
		LargeFileThreshold: 1024,
		ChunkSize:          graph.ChunkAlignment,
		ParallelTransfers:  2,
	}
}

func (g *fakeGraph) newClient(t *testing.T) *Client {
	t.Helper()

	c, err := New(g.settings(), WithTokenURL(g.srv.URL+"/token"), WithLogger(slog.Default()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

// mkdir adds a folder below parentPath ("" is the root) and returns its id.
func (g *fakeGraph) mkdir(parentPath, name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	parent := g.byPathLocked(parentPath)
	require.NotNil(g.t, parent, parentPath)

	return g.addLocked(parent.id, name, true, nil).id
}

// put adds a file below parentPath and returns its id.
func (g *fakeGraph) put(parentPath, name string, data []byte) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	parent := g.byPathLocked(parentPath)
	require.NotNil(g.t, parent, parentPath)

	return g.addLocked(parent.id, name, false, data).id
}

// content returns the bytes stored at a drive-relative path.
func (g *fakeGraph) content(p string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	it := g.byPathLocked(p)
	if it == nil || it.folder {
		return nil, false
	}

	return it.data, true
}

func (g *fakeGraph) share(link, itemID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.shares[link] = itemID
}

func (g *fakeGraph) addLocked(parentID, name string, folder bool, data []byte) *fakeItem {
	g.nextID++

	it := &fakeItem{
		id:       "item" + strconv.Itoa(g.nextID),
		name:     name,
		parentID: parentID,
		folder:   folder,
		data:     append([]byte(nil), data...),
		modified: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
	g.items[it.id] = it

	return it
}

func (g *fakeGraph) childLocked(parentID, name string) *fakeItem {
	for _, it := range g.items {
		if it.parentID == parentID && strings.EqualFold(it.name, name) {
			return it
		}
	}

	return nil
}

func (g *fakeGraph) walkLocked(from *fakeItem, rel string) *fakeItem {
	cur := from

	for _, seg := range strings.Split(strings.Trim(rel, "/"), "/") {
		if seg == "" {
			continue
		}

		if cur = g.childLocked(cur.id, seg); cur == nil {
			return nil
		}
	}

	return cur
}

func (g *fakeGraph) byPathLocked(p string) *fakeItem {
	return g.walkLocked(g.items["root"], p)
}

func (g *fakeGraph) pathLocked(it *fakeItem) string {
	var segs []string

	for cur := it; cur.id != "root"; cur = g.items[cur.parentID] {
		segs = append([]string{cur.name}, segs...)
	}

	return strings.Join(segs, "/")
}

// childrenLocked returns the children of id sorted by creation order.
func (g *fakeGraph) childrenLocked(id string) []*fakeItem {
	var out []*fakeItem

	for n := 1; n <= g.nextID; n++ {
		if it, ok := g.items["item"+strconv.Itoa(n)]; ok && it.parentID == id {
			out = append(out, it)
		}
	}

	return out
}

func hashOf(data []byte) string {
	h := quickxorhash.New()
	_, _ = h.Write(data)

	return quickxorhash.Encode(h.Sum(nil))
}

func (g *fakeGraph) itemJSONLocked(it *fakeItem) map[string]any {
	out := map[string]any{
		"id":                   it.id,
		"name":                 it.name,
		"size":                 len(it.data),
		"webUrl":               libraryURL + "/" + it.name,
		"lastModifiedDateTime": it.modified.Format(time.RFC3339),
	}

	if it.id != "root" {
		parent := g.items[it.parentID]
		out["parentReference"] = map[string]any{
			"id":      parent.id,
			"driveId": testDriveID,
			"path":    "/drives/" + testDriveID + "/root:/" + g.pathLocked(parent),
		}
	}

	if it.folder {
		out["folder"] = map[string]any{"childCount": len(g.childrenLocked(it.id))}
	} else {
		out["file"] = map[string]any{
			"mimeType": "application/octet-stream",
			"hashes":   map[string]any{"quickXorHash": hashOf(it.data)},
		}
		out["@microsoft.graph.downloadUrl"] = g.srv.URL + "/download/" + it.id
	}

	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func graphError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"code": code, "message": msg}})
}

func (g *fakeGraph) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/token":
		g.tokenCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": testToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	case strings.HasPrefix(r.URL.Path, "/upload/"):
		g.serveChunk(w, r)
	case strings.HasPrefix(r.URL.Path, "/download/"):
		g.serveDownload(w, r)
	case strings.HasPrefix(r.URL.Path, "/v1.0/"):
		g.apiCalls.Add(1)

		if r.Header.Get("Authorization") != "Bearer "+testToken {
			graphError(w, http.StatusUnauthorized, "InvalidAuthenticationToken", "missing token")

			return
		}

		g.serveAPI(w, r, strings.TrimPrefix(r.URL.Path, "/v1.0"))
	default:
		http.NotFound(w, r)
	}
}

func (g *fakeGraph) serveAPI(w http.ResponseWriter, r *http.Request, p string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case p == "/sites" && r.URL.Query().Get("search") != "":
		g.serveSearch(w, r.URL.Query().Get("search"))
	case p == "/sites/"+testHost+":/"+testSitePath:
		writeJSON(w, http.StatusOK, siteJSON())
	case strings.HasPrefix(p, "/sites/"+testHost+":/"):
		graphError(w, http.StatusNotFound, "itemNotFound", "site not found")
	case p == "/sites/"+testSiteID+"/drives":
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{driveJSON()}})
	case p == "/drives/"+testDriveID:
		writeJSON(w, http.StatusOK, driveJSON())
	case strings.HasPrefix(p, "/shares/"):
		g.serveShare(w, p)
	case strings.HasPrefix(p, "/drives/"+testDriveID+"/"):
		g.serveDrive(w, r, strings.TrimPrefix(p, "/drives/"+testDriveID))
	default:
		graphError(w, http.StatusNotFound, "itemNotFound", "no route for "+p)
	}
}

func siteJSON() map[string]any {
	return map[string]any{
		"id":             testSiteID,
		"name":           "Marketing",
		"displayName":    "Marketing Team",
		"webUrl":         siteURL,
		"siteCollection": map[string]any{"hostname": testHost},
	}
}

func driveJSON() map[string]any {
	return map[string]any{
		"id":        testDriveID,
		"name":      "Documents",
		"driveType": "documentLibrary",
		"webUrl":    libraryURL,
		"quota":     map[string]any{"used": 10, "total": 100},
	}
}

func (g *fakeGraph) serveSearch(w http.ResponseWriter, q string) {
	var value []any
	if strings.Contains(strings.ToLower("Marketing"), strings.ToLower(q)) {
		value = append(value, siteJSON())
	}

	writeJSON(w, http.StatusOK, map[string]any{"value": value})
}

func (g *fakeGraph) serveShare(w http.ResponseWriter, p string) {
	token := strings.TrimSuffix(strings.TrimPrefix(p, "/shares/u!"), "/driveItem")

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		graphError(w, http.StatusBadRequest, "invalidRequest", err.Error())

		return
	}

	it, ok := g.items[g.shares[string(raw)]]
	if !ok {
		graphError(w, http.StatusNotFound, "itemNotFound", "share not found")

		return
	}

	writeJSON(w, http.StatusOK, g.itemJSONLocked(it))
}

// serveDrive handles everything under /drives/{id}. Paths arrive decoded.
func (g *fakeGraph) serveDrive(w http.ResponseWriter, r *http.Request, p string) {
	switch {
	case p == "/root" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, g.itemJSONLocked(g.items["root"]))
	case strings.HasPrefix(p, "/root:/"):
		g.serveAddressed(w, r, g.items["root"], strings.TrimPrefix(p, "/root:/"))
	case strings.HasPrefix(p, "/items/"):
		rest := strings.TrimPrefix(p, "/items/")
		id, tail, _ := strings.Cut(rest, "/")

		if strings.Contains(id, ":") {
			id, _, _ = strings.Cut(rest, ":")
			tail = strings.TrimPrefix(rest, id+":/")
		}

		base, ok := g.items[id]
		if !ok {
			graphError(w, http.StatusNotFound, "itemNotFound", "no item "+id)

			return
		}

		switch {
		case strings.HasPrefix(rest, id+":/"):
			g.serveAddressed(w, r, base, tail)
		case tail == "children":
			g.serveChildren(w, r, base)
		case tail == "" && r.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, g.itemJSONLocked(base))
		default:
			graphError(w, http.StatusNotFound, "itemNotFound", "no route for "+p)
		}
	default:
		graphError(w, http.StatusNotFound, "itemNotFound", "no route for "+p)
	}
}

// serveAddressed handles "{base}:/{rel}:" optionally followed by /content
// or /createUploadSession.
func (g *fakeGraph) serveAddressed(w http.ResponseWriter, r *http.Request, base *fakeItem, rest string) {
	rel, action, _ := strings.Cut(rest, ":")
	action = strings.TrimPrefix(action, "/")

	switch action {
	case "":
		it := g.walkLocked(base, rel)
		if it == nil {
			graphError(w, http.StatusNotFound, "itemNotFound", "The resource could not be found.")

			return
		}

		writeJSON(w, http.StatusOK, g.itemJSONLocked(it))
	case "content":
		g.simplePuts.Add(1)

		data, err := io.ReadAll(r.Body)
		require.NoError(g.t, err)

		it, status := g.commitLocked(base.id, rel, r.URL.Query().Get("@microsoft.graph.conflictBehavior"), data)
		if it == nil {
			graphError(w, status, "nameAlreadyExists", "The specified item name already exists.")

			return
		}

		writeJSON(w, status, g.itemJSONLocked(it))
	case "createUploadSession":
		g.sessionPosts.Add(1)

		var body struct {
			Item struct {
				Conflict string `json:"@microsoft.graph.conflictBehavior"`
			} `json:"item"`
		}
		require.NoError(g.t, json.NewDecoder(r.Body).Decode(&body))

		if existing := g.childLocked(base.id, rel); existing != nil && body.Item.Conflict != "replace" {
			graphError(w, http.StatusConflict, "nameAlreadyExists", "The specified item name already exists.")

			return
		}

		g.nextID++
		key := strconv.Itoa(g.nextID)
		g.uploads[key] = &fakeUpload{parentID: base.id, name: rel, conflict: body.Item.Conflict, total: -1}

		writeJSON(w, http.StatusOK, map[string]any{
			"uploadUrl":          g.srv.URL + "/upload/" + key,
			"expirationDateTime": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		})
	default:
		graphError(w, http.StatusNotFound, "itemNotFound", "unknown action "+action)
	}
}

// commitLocked stores data as parentID/name. It returns nil and 409 on a
// conflict the behavior forbids.
func (g *fakeGraph) commitLocked(parentID, name, conflict string, data []byte) (*fakeItem, int) {
	if existing := g.childLocked(parentID, name); existing != nil {
		if conflict != "replace" {
			return nil, http.StatusConflict
		}

		existing.data = append([]byte(nil), data...)

		return existing, http.StatusOK
	}

	return g.addLocked(parentID, name, false, data), http.StatusCreated
}

func (g *fakeGraph) serveChildren(w http.ResponseWriter, r *http.Request, folder *fakeItem) {
	all := g.childrenLocked(folder.id)

	skip, _ := strconv.Atoi(r.URL.Query().Get("$skiptoken"))
	end := min(skip+g.pageSize, len(all))

	value := make([]any, 0, end-skip)
	for _, it := range all[skip:end] {
		value = append(value, g.itemJSONLocked(it))
	}

	resp := map[string]any{"value": value}
	if end < len(all) {
		resp["@odata.nextLink"] = fmt.Sprintf("%s/v1.0/drives/%s/items/%s/children?$skiptoken=%d",
			g.srv.URL, testDriveID, folder.id, end)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (g *fakeGraph) serveChunk(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "" {
		g.t.Errorf("upload session request carried an Authorization header")
	}

	data, err := io.ReadAll(r.Body)
	require.NoError(g.t, err)

	g.mu.Lock()
	defer g.mu.Unlock()

	up, ok := g.uploads[path.Base(r.URL.Path)]
	if !ok {
		graphError(w, http.StatusNotFound, "itemNotFound", "no session")

		return
	}

	var start, end, total int64
	if _, err := fmt.Sscanf(r.Header.Get("Content-Range"), "bytes %d-%d/%d", &start, &end, &total); err != nil {
		graphError(w, http.StatusBadRequest, "invalidRange", err.Error())

		return
	}

	if start != int64(len(up.data)) || end-start+1 != int64(len(data)) {
		graphError(w, http.StatusRequestedRangeNotSatisfiable, "invalidRange", "unexpected range")

		return
	}

	up.total = total
	up.data = append(up.data, data...)

	if int64(len(up.data)) < total {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"nextExpectedRanges": []string{fmt.Sprintf("%d-", len(up.data))},
		})

		return
	}

	it, status := g.commitLocked(up.parentID, up.name, up.conflict, up.data)
	if it == nil {
		graphError(w, status, "nameAlreadyExists", "The specified item name already exists.")

		return
	}

	delete(g.uploads, path.Base(r.URL.Path))
	writeJSON(w, status, g.itemJSONLocked(it))
}

func (g *fakeGraph) serveDownload(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "" {
		g.t.Errorf("download request carried an Authorization header")
	}

	g.mu.Lock()
	it, ok := g.items[path.Base(r.URL.Path)]
	var data []byte
	if ok {
		data = it.data
	}
	g.mu.Unlock()

	if !ok {
		http.NotFound(w, r)

		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}
