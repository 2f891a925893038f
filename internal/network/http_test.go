package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/tracing"
)

func newTestFetcher(t *testing.T, origin string, retries int) *HTTPFetcher {
	t.Helper()
	f, err := NewHTTPFetcher(Options{Origin: origin, Timeout: 5 * time.Second, Retries: retries})
	require.NoError(t, err)
	return f
}

func TestNewHTTPFetcherRejectsBadOrigin(t *testing.T) {
	for _, origin := range []string{"", "localhost", "://x"} {
		_, err := NewHTTPFetcher(Options{Origin: origin})
		assert.Error(t, err, origin)
	}
}

func TestFetchSameOrigin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("X-Echo", r.Header.Get("X-Test"))
		w.Write([]byte("export default 1"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, 0)
	req := cache.NewRequest(srv.URL + "/index.js")
	req.Header = http.Header{"X-Test": {"yes"}}

	resp, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, cache.TypeBasic, resp.Type)
	assert.Equal(t, "export default 1", string(resp.Body))
	assert.Equal(t, "application/javascript", resp.Header.Get("Content-Type"))
	assert.Equal(t, "yes", resp.Header.Get("X-Echo"))
}

func TestFetchPropagatesTrace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Trace", r.Header.Get(tracing.HeaderTraceID))
	}))
	defer srv.Close()

	incoming := http.Header{}
	incoming.Set(tracing.HeaderTraceID, "trace-42")
	ctx := tracing.Extract(context.Background(), incoming)
	resp, err := newTestFetcher(t, srv.URL, 0).Fetch(ctx, cache.NewRequest(srv.URL+"/"))
	require.NoError(t, err)

	assert.Equal(t, "trace-42", resp.Header.Get("X-Seen-Trace"))
}

func TestFetchDecodesCompressedBodies(t *testing.T) {
	var seenEncoding atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenEncoding.Store(r.Header.Get("Accept-Encoding"))
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		zw.Write([]byte("console.log('hello')"))
		zw.Close()
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		header http.Header
	}{
		{"browser accept-encoding", http.Header{"Accept-Encoding": {"gzip, deflate, br"}}},
		{"no accept-encoding", nil},
	}

	f := newTestFetcher(t, srv.URL, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := cache.NewRequest(srv.URL + "/app.js")
			req.Header = tt.header

			resp, err := f.Fetch(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, "console.log('hello')", string(resp.Body))
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
			assert.Empty(t, resp.Header.Get("Content-Length"))
			assert.NotContains(t, seenEncoding.Load(), "br")
		})
	}
}

func TestFetchSniffsMissingContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// An explicit empty value suppresses net/http's own sniffing.
		w.Header()["Content-Type"] = nil
		w.Write(png)
	}))
	defer srv.Close()

	resp, err := newTestFetcher(t, srv.URL, 0).Fetch(context.Background(), cache.NewRequest(srv.URL+"/icon"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestFetchCrossOriginTyping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("font"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, "https://maskmytext.com", 0)

	cors := cache.NewRequest(srv.URL + "/font.woff2")
	cors.Mode = cache.ModeCORS
	resp, err := f.Fetch(context.Background(), cors)
	require.NoError(t, err)
	assert.Equal(t, cache.TypeCORS, resp.Type)
	assert.Equal(t, "font", string(resp.Body))

	opaque := cache.NewRequest(srv.URL + "/font.woff2")
	opaque.Mode = cache.ModeNoCORS
	resp, err = f.Fetch(context.Background(), opaque)
	require.NoError(t, err)
	assert.Equal(t, cache.TypeOpaque, resp.Type)
	assert.Zero(t, resp.Status)
	assert.Empty(t, resp.Body)
}

func TestFetchErrorStatusIsAResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	resp, err := newTestFetcher(t, srv.URL, 1).Fetch(context.Background(), cache.NewRequest(srv.URL+"/x.js"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.Status)
	assert.False(t, resp.OK())
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchDoesNotRetryUnsafeMethods(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	req := cache.Request{Method: http.MethodPost, URL: srv.URL + "/api", Body: []byte("{}")}
	resp, err := newTestFetcher(t, srv.URL, 3).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher(t, url, 0).Fetch(context.Background(), cache.NewRequest(url+"/app.js"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestFetcherFunc(t *testing.T) {
	want := &cache.Response{Status: http.StatusTeapot}
	f := FetcherFunc(func(ctx context.Context, req cache.Request) (*cache.Response, error) {
		return want, nil
	})

	got, err := f.Fetch(context.Background(), cache.NewRequest("https://x.test/"))
	require.NoError(t, err)
	assert.Same(t, want, got)
}
