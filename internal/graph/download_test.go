package graph

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload_StreamsWithoutAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("file content"))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)

	var buf bytes.Buffer

	n, err := client.Download(context.Background(), &Item{ID: "x", Name: "a.txt", DownloadURL: srv.URL + "/dl"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, "file content", buf.String())
}

func TestDownload_NoURL(t *testing.T) {
	client, _ := newTestClient(t, "http://unused.invalid")

	_, err := client.Download(context.Background(), &Item{ID: "f", Name: "Folder", IsFolder: true}, &bytes.Buffer{})
	require.ErrorIs(t, err, ErrNoDownloadURL)
	assert.Contains(t, err.Error(), "Folder")
}

func TestDownload_RetriesRequestAndHidesURL(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)
	_, err := client.Download(context.Background(),
		&Item{Name: "a.txt", DownloadURL: srv.URL + "/dl?tempauth=SECRET"}, &bytes.Buffer{})
	require.ErrorIs(t, err, ErrGone)
	assert.NotContains(t, err.Error(), "SECRET")
	assert.Equal(t, int32(2), calls.Load())
}

func TestDownloadItem_FetchesFreshURL(t *testing.T) {
	var srv *httptest.Server

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/content" {
			_, _ = w.Write([]byte("xyz"))

			return
		}

		_, _ = fmt.Fprintf(w, `{"id":"i1","name":"a","file":{},"@microsoft.graph.downloadUrl":"%s/content"}`, srv.URL)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)

	var buf bytes.Buffer

	n, err := client.DownloadItem(context.Background(), "d1", "i1", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, "xyz", buf.String())
}
