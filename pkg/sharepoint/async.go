package sharepoint

import (
	"context"
)

// Future is the pending result of an AsyncClient operation.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// goFuture runs fn on its own goroutine.
func goFuture[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	go func() {
		defer close(f.done)

		f.value, f.err = fn()
	}()

	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the operation finishes or ctx ends. Giving up on ctx
// does not stop the operation; cancel the context passed to the AsyncClient
// method for that.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}

// AwaitAll waits for every future in order and returns the first error.
func AwaitAll[T any](ctx context.Context, futures ...*Future[T]) ([]T, error) {
	out := make([]T, len(futures))

	for i, f := range futures {
		v, err := f.Await(ctx)
		if err != nil {
			return out, err
		}

		out[i] = v
	}

	return out, nil
}

// AsyncClient exposes the Client operations as futures. Each call starts
// at once on its own goroutine and shares the Client's session, so any
// number of calls can be in flight together.
type AsyncClient struct {
	c *Client
}

// NewAsync builds a Client and returns its asynchronous surface.
func NewAsync(settings Settings, opts ...Option) (*AsyncClient, error) {
	c, err := New(settings, opts...)
	if err != nil {
		return nil, err
	}

	return c.Async(), nil
}

// Async returns the asynchronous surface of c.
func (c *Client) Async() *AsyncClient {
	return &AsyncClient{c: c}
}

// Blocking returns the underlying Client.
func (a *AsyncClient) Blocking() *Client {
	return a.c
}

// Close closes the underlying Client.
func (a *AsyncClient) Close() error {
	return a.c.Close()
}

// Path is the asynchronous form of Client.Path. A malformed URL is reported
// without starting a goroutine.
func (a *AsyncClient) Path(ctx context.Context, rawURL string) *Future[Resource] {
	loc, err := a.c.parser.Parse(rawURL)
	if err != nil {
		return failed[Resource](err)
	}

	return goFuture(func() (Resource, error) {
		return a.c.resolve(ctx, loc)
	})
}

// Upload is the asynchronous form of Client.Upload.
func (a *AsyncClient) Upload(ctx context.Context, localPath, destURL string, opts UploadOptions) *Future[*File] {
	if _, err := a.c.parser.Parse(destURL); err != nil {
		return failed[*File](err)
	}

	return goFuture(func() (*File, error) {
		return a.c.Upload(ctx, localPath, destURL, opts)
	})
}

// Download is the asynchronous form of Client.Download.
func (a *AsyncClient) Download(ctx context.Context, srcURL, target string, opts DownloadOptions) *Future[string] {
	if _, err := a.c.parser.Parse(srcURL); err != nil {
		return failed[string](err)
	}

	return goFuture(func() (string, error) {
		return a.c.Download(ctx, srcURL, target, opts)
	})
}

// UploadMany is the asynchronous form of Client.UploadMany.
func (a *AsyncClient) UploadMany(ctx context.Context, reqs []UploadRequest) *Future[[]UploadResult] {
	return goFuture(func() ([]UploadResult, error) {
		return a.c.UploadMany(ctx, reqs)
	})
}

// DownloadMany is the asynchronous form of Client.DownloadMany.
func (a *AsyncClient) DownloadMany(ctx context.Context, reqs []DownloadRequest) *Future[[]DownloadResult] {
	return goFuture(func() ([]DownloadResult, error) {
		return a.c.DownloadMany(ctx, reqs)
	})
}

// failed returns an already-resolved future.
func failed[T any](err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), err: err}
	close(f.done)

	return f
}
