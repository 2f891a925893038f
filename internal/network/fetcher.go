package network

import (
	"context"
	"errors"

	"github.com/richardjypark/maskmytext.com/internal/cache"
)

// ErrNetwork marks a fetch that produced no response at all.
var ErrNetwork = errors.New("network: fetch failed")

// Fetcher performs a network request.
type Fetcher interface {
	Fetch(ctx context.Context, req cache.Request) (*cache.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req cache.Request) (*cache.Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req cache.Request) (*cache.Response, error) {
	return f(ctx, req)
}
