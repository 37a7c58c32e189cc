package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/sharepoint-go/internal/graph"
)

// fakeRemote is an in-memory document library implementing Remote.
type fakeRemote struct {
	mu sync.Mutex

	files    map[string][]byte // committed files by name
	sessions map[string]*fakeSession

	simpleUploads  int
	sessionCreates int
	chunkCalls     int
	queries        int
	opens          int

	// failChunk, when set, is consulted before each chunk is applied. It
	// returns the error to report and whether the bytes still reached the
	// server (a lost response).
	failChunk func(call int, offset int64) (stored bool, err error)
	// onChunk runs after each successfully applied chunk.
	onChunk func(offset int64)
	// corrupt makes downloads serve different bytes than the reported hash.
	corrupt bool
}

type fakeSession struct {
	name     string
	conflict graph.ConflictBehavior
	total    int64
	data     []byte
	finished bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:    make(map[string][]byte),
		sessions: make(map[string]*fakeSession),
	}
}

func serverError() error {
	return &graph.GraphError{StatusCode: http.StatusServiceUnavailable, Err: graph.ErrServerError}
}

func (f *fakeRemote) commitLocked(name string, data []byte, conflict graph.ConflictBehavior) (*graph.Item, error) {
	if _, ok := f.files[name]; ok && conflict != graph.ConflictReplace {
		return nil, &graph.GraphError{StatusCode: http.StatusConflict, Code: "nameAlreadyExists", Err: graph.ErrConflict}
	}

	f.files[name] = append([]byte(nil), data...)

	return &graph.Item{ID: "id-" + name, Name: name, Size: int64(len(data)), QuickXorHash: hashBytes(data)}, nil
}

func (f *fakeRemote) SimpleUpload(_ context.Context, target graph.UploadTarget, r io.Reader, size int64) (*graph.Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.simpleUploads++

	if int64(len(data)) != size {
		return nil, fmt.Errorf("fake: body %d bytes, declared %d", len(data), size)
	}

	return f.commitLocked(target.Name, data, target.Conflict)
}

func (f *fakeRemote) CreateUploadSession(
	_ context.Context, target graph.UploadTarget, size int64, _ time.Time,
) (*graph.UploadSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sessionCreates++
	url := "https://upload.example/session-" + strconv.Itoa(f.sessionCreates)
	f.sessions[url] = &fakeSession{name: target.Name, conflict: target.Conflict, total: size}

	return &graph.UploadSession{UploadURL: url, ExpirationTime: time.Now().Add(48 * time.Hour)}, nil
}

func (f *fakeRemote) UploadChunk(
	_ context.Context, session *graph.UploadSession, chunk io.Reader, offset, length, total int64,
) (*graph.Item, error) {
	data, err := io.ReadAll(chunk)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.chunkCalls++

	s, ok := f.sessions[session.UploadURL]
	if !ok || s.finished {
		return nil, &graph.GraphError{StatusCode: http.StatusNotFound, Err: graph.ErrNotFound}
	}

	if int64(len(data)) != length || total != s.total {
		return nil, fmt.Errorf("fake: bad chunk length %d/%d total %d", len(data), length, total)
	}

	if offset != int64(len(s.data)) {
		return nil, &graph.GraphError{StatusCode: http.StatusRequestedRangeNotSatisfiable, Err: graph.ErrRangeNotSatisfiable}
	}

	var injected error

	if f.failChunk != nil {
		var stored bool

		stored, injected = f.failChunk(f.chunkCalls, offset)
		if injected != nil && !stored {
			return nil, injected
		}
	}

	s.data = append(s.data, data...)

	if f.onChunk != nil {
		f.onChunk(offset)
	}

	if int64(len(s.data)) < s.total {
		return nil, injected
	}

	item, err := f.commitLocked(s.name, s.data, s.conflict)
	if err != nil {
		return nil, err
	}

	s.finished = true

	if injected != nil {
		return nil, injected
	}

	return item, nil
}

func (f *fakeRemote) QueryUploadSession(_ context.Context, session *graph.UploadSession) (*graph.UploadSessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries++

	s, ok := f.sessions[session.UploadURL]
	if !ok {
		return nil, &graph.GraphError{StatusCode: http.StatusNotFound, Err: graph.ErrNotFound}
	}

	status := &graph.UploadSessionStatus{UploadURL: session.UploadURL}
	if int64(len(s.data)) < s.total {
		status.NextExpectedRanges = []string{fmt.Sprintf("%d-", len(s.data))}
	}

	return status, nil
}

func (f *fakeRemote) ChildByName(_ context.Context, _, _, name string) (*graph.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.files[name]
	if !ok {
		return nil, &graph.GraphError{StatusCode: http.StatusNotFound, Err: graph.ErrNotFound}
	}

	return &graph.Item{ID: "id-" + name, Name: name, Size: int64(len(data)), QuickXorHash: hashBytes(data)}, nil
}

func (f *fakeRemote) OpenDownload(_ context.Context, item *graph.Item) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opens++

	data, ok := f.files[item.Name]
	if !ok {
		return nil, fmt.Errorf("graph: downloading %q: %w", item.Name, graph.ErrNoDownloadURL)
	}

	if f.corrupt {
		data = append([]byte("x"), data[1:]...)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// remoteItem returns the item for a committed file, as a listing would.
func (f *fakeRemote) remoteItem(name string) *graph.Item {
	f.mu.Lock()
	defer f.mu.Unlock()

	data := f.files[name]

	return &graph.Item{ID: "id-" + name, Name: name, Size: int64(len(data)), QuickXorHash: hashBytes(data)}
}

func noopSleep(context.Context, time.Duration) error { return nil }

// newTestEngine builds an engine with a 1 KiB threshold and 320 KiB chunks.
func newTestEngine(t *testing.T, remote Remote, store *SessionStore) *Engine {
	t.Helper()

	e := NewEngine(remote, Options{
		Threshold: 1024,
		ChunkSize: graph.ChunkAlignment,
		Store:     store,
		Logger:    slog.Default(),
	})
	e.sleepFunc = noopSleep

	return e
}

func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}

	return b
}

func writeLocal(t *testing.T, name string, data []byte) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))

	return p
}
