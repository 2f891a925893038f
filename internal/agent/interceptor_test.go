package agent

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
	"github.com/richardjypark/maskmytext.com/internal/network"
)

type interceptorFixture struct {
	net         *fakeNetwork
	versions    *VersionManager
	interceptor *Interceptor
	metrics     *monitoring.Metrics
}

func newInterceptorFixture(t *testing.T, base string, threshold int) *interceptorFixture {
	t.Helper()
	net := newFakeNetwork()
	metrics := monitoring.NewMetrics()

	versions, err := NewVersionManager(VersionOptions{
		Version:  "v1",
		Origin:   mustOrigin(t),
		Manifest: BuildManifest(base, []string{"/", "/index.html"}),
		Storage:  cache.NewMemoryStorage(),
		Fetcher:  net,
	})
	require.NoError(t, err)

	policy := NewPolicy(PolicyOptions{
		Origin:     mustOrigin(t),
		Extensions: DefaultExtensions(),
		Threshold:  threshold,
		Metrics:    metrics,
	})
	return &interceptorFixture{
		net:      net,
		versions: versions,
		interceptor: NewInterceptor(InterceptorOptions{
			Versions: versions,
			Fetcher:  net,
			Policy:   policy,
			BasePath: base,
			Metrics:  metrics,
		}),
		metrics: metrics,
	}
}

func (f *interceptorFixture) get(p string) *cache.Response {
	resp := f.interceptor.Handle(context.Background(), cache.NewRequest(abs(p)))
	f.interceptor.Wait()
	return resp
}

func navigation(p string) cache.Request {
	req := cache.NewRequest(abs(p))
	req.Mode = cache.ModeNavigate
	return req
}

func TestRepeatedRequestsHitCache(t *testing.T) {
	f := newInterceptorFixture(t, "", DefaultThreshold)

	first := f.get("/styles.css")
	second := f.get("/styles.css")

	assert.Equal(t, http.StatusOK, first.Status)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 1, f.net.callsTo("/styles.css"))

	snap := f.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.Hits)
	assert.Equal(t, int64(1), snap.Misses)
}

func TestCallerCanConsumeResponseWhileCaching(t *testing.T) {
	f := newInterceptorFixture(t, "", DefaultThreshold)

	resp := f.interceptor.Handle(context.Background(), cache.NewRequest(abs("/app.js")))
	// Mutating the returned body must not corrupt the cached copy.
	resp.Body[0] = 'X'
	f.interceptor.Wait()

	cached := f.get("/app.js")
	assert.Equal(t, "body of /app.js", string(cached.Body))
}

func TestUncacheableResponsesAreNotStored(t *testing.T) {
	f := newInterceptorFixture(t, "", DefaultThreshold)
	f.net.respond("/gone.js", http.StatusNotFound)

	assert.Equal(t, http.StatusNotFound, f.get("/gone.js").Status)
	f.get("/gone.js")
	f.get("/api/words")
	f.get("/api/words")

	assert.Equal(t, 2, f.net.callsTo("/gone.js"))
	assert.Equal(t, 2, f.net.callsTo("/api/words"))
}

func TestMissingResourceOfflineReturns503(t *testing.T) {
	f := newInterceptorFixture(t, "", DefaultThreshold)
	f.net.setDown(true)

	resp := f.get("/missing")

	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, cache.UnavailableBody, string(resp.Body))
	assert.Equal(t, int64(1), f.metrics.Snapshot().Unavailable)
}

func TestCachedResourceServedOffline(t *testing.T) {
	f := newInterceptorFixture(t, "", DefaultThreshold)
	f.get("/logo.png")
	f.net.setDown(true)

	resp := f.get("/logo.png")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "body of /logo.png", string(resp.Body))
}

func TestNavigationPrefersNetwork(t *testing.T) {
	f := newInterceptorFixture(t, "", DefaultThreshold)
	_, err := f.versions.Install(context.Background())
	require.NoError(t, err)

	resp := f.interceptor.Handle(context.Background(), navigation("/about"))
	assert.Equal(t, "body of /about", string(resp.Body))
	assert.Equal(t, 1, f.net.callsTo("/about"))
}

func TestNavigationFallsBackToCachedRoot(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		seed     []string
		wantBody string
	}{
		{"base-path root first", "/maskmytext.com", []string{"/maskmytext.com/", "/"}, "prefixed"},
		{"bare root second", "/maskmytext.com", []string{"/"}, "bare"},
		{"root deployment", "", []string{"/"}, "bare"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInterceptorFixture(t, tt.base, DefaultThreshold)
			store, err := f.versions.Store(context.Background())
			require.NoError(t, err)
			for _, p := range tt.seed {
				body := "bare"
				if p != "/" {
					body = "prefixed"
				}
				require.NoError(t, store.Put(context.Background(), cache.NewRequest(abs(p)),
					&cache.Response{Status: http.StatusOK, Body: []byte(body), Type: cache.TypeBasic}))
			}
			f.net.setDown(true)

			resp := f.interceptor.Handle(context.Background(), navigation(tt.base+"/deep/link"))
			assert.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, tt.wantBody, string(resp.Body))
		})
	}
}

func TestNavigationWithoutCachedRootReturns503(t *testing.T) {
	f := newInterceptorFixture(t, "", DefaultThreshold)
	f.net.setDown(true)

	resp := f.interceptor.Handle(context.Background(), navigation("/"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
}

func TestRuntimeCacheConvergesToThreshold(t *testing.T) {
	f := newInterceptorFixture(t, "", 3)

	for _, p := range []string{"/a.png", "/b.png", "/c.png", "/d.png"} {
		f.get(p)
	}

	store, err := f.versions.Store(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/b.png", "/c.png", "/d.png"}, storedPaths(t, store))
}

func TestConcurrentRequestsSettle(t *testing.T) {
	f := newInterceptorFixture(t, "", 10)

	done := make(chan struct{})
	for i := 0; i < 40; i++ {
		go func(i int) {
			f.interceptor.Handle(context.Background(), cache.NewRequest(abs(fmt.Sprintf("/img-%d.png", i%20))))
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 40; i++ {
		<-done
	}
	f.interceptor.Wait()

	store, err := f.versions.Store(context.Background())
	require.NoError(t, err)
	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestCanceledRequestStillCaches(t *testing.T) {
	f := newInterceptorFixture(t, "", DefaultThreshold)
	f.interceptor.fetcher = network.FetcherFunc(func(ctx context.Context, req cache.Request) (*cache.Response, error) {
		return f.net.Fetch(context.Background(), req)
	})

	ctx, cancel := context.WithCancel(context.Background())
	resp := f.interceptor.Handle(ctx, cache.NewRequest(abs("/late.js")))
	cancel()
	f.interceptor.Wait()

	require.Equal(t, http.StatusOK, resp.Status)
	store, err := f.versions.Store(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, matchPath(t, store, "/late.js"))
}
