package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/network"
	"github.com/richardjypark/maskmytext.com/internal/protocol"
	"github.com/richardjypark/maskmytext.com/internal/shared/id"
)

const testOrigin = "https://maskmytext.com"

func mustOrigin(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse(testOrigin)
	require.NoError(t, err)
	return u
}

// fakeNetwork serves every path with a 200 unless told otherwise.
type fakeNetwork struct {
	mu      sync.Mutex
	down    bool
	failing map[string]bool
	status  map[string]int
	calls   map[string]int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		failing: make(map[string]bool),
		status:  make(map[string]int),
		calls:   make(map[string]int),
	}
}

func (n *fakeNetwork) Fetch(ctx context.Context, req cache.Request) (*cache.Response, error) {
	p := req.Path()

	n.mu.Lock()
	n.calls[p]++
	down, failing, status := n.down, n.failing[p], n.status[p]
	n.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", network.ErrNetwork, err)
	}
	if down || failing {
		return nil, fmt.Errorf("%w: %s unreachable", network.ErrNetwork, p)
	}
	if status == 0 {
		status = http.StatusOK
	}
	h := make(http.Header)
	h.Set("Content-Type", "text/plain")
	return &cache.Response{
		Status: status,
		Header: h,
		Body:   []byte("body of " + p),
		Type:   cache.TypeBasic,
		URL:    req.URL,
	}, nil
}

func (n *fakeNetwork) setDown(down bool) {
	n.mu.Lock()
	n.down = down
	n.mu.Unlock()
}

func (n *fakeNetwork) fail(p string) {
	n.mu.Lock()
	n.failing[p] = true
	n.mu.Unlock()
}

func (n *fakeNetwork) respond(p string, status int) {
	n.mu.Lock()
	n.status[p] = status
	n.mu.Unlock()
}

func (n *fakeNetwork) callsTo(p string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[p]
}

var _ network.Fetcher = (*fakeNetwork)(nil)

// gatedNetwork blocks every fetch until release is closed.
type gatedNetwork struct {
	*fakeNetwork
	release chan struct{}
}

func (g *gatedNetwork) Fetch(ctx context.Context, req cache.Request) (*cache.Response, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.fakeNetwork.Fetch(ctx, req)
}

func newVersionManager(t *testing.T, version string, storage cache.Storage, fetcher network.Fetcher, shell []string, healers ...KeyHealer) *VersionManager {
	t.Helper()
	m, err := NewVersionManager(VersionOptions{
		Version:  id.VersionID(version),
		Origin:   mustOrigin(t),
		Manifest: BuildManifest("", shell),
		Storage:  storage,
		Fetcher:  fetcher,
		Healers:  healers,
	})
	require.NoError(t, err)
	return m
}

func abs(p string) string { return testOrigin + p }

// fakeClient records notifications.
type fakeClient struct {
	id id.ClientID

	mu       sync.Mutex
	received []protocol.Notification
}

func (c *fakeClient) ID() id.ClientID { return c.id }

func (c *fakeClient) PostMessage(n protocol.Notification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, n)
	return true
}

func (c *fakeClient) notifications() []protocol.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Notification(nil), c.received...)
}

// fakeClients is a static client set that records claims.
type fakeClients struct {
	clients []Client

	mu     sync.Mutex
	claims []id.VersionID
}

func (f *fakeClients) MatchAll(context.Context) []Client { return f.clients }

func (f *fakeClients) Claim(_ context.Context, w *Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, w.Version())
	return nil
}

func (f *fakeClients) claimed() []id.VersionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]id.VersionID(nil), f.claims...)
}
