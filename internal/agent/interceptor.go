package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
	"github.com/richardjypark/maskmytext.com/internal/network"
	"github.com/richardjypark/maskmytext.com/internal/shared/paths"
)

// InterceptorOptions configures an Interceptor.
type InterceptorOptions struct {
	Versions *VersionManager
	Fetcher  network.Fetcher
	Policy   *Policy
	// BasePath is the deployment prefix used for the navigation fallback.
	BasePath string
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
}

// Interceptor answers intercepted requests for one worker.
type Interceptor struct {
	versions *VersionManager
	fetcher  network.Fetcher
	policy   *Policy
	base     string
	log      *logging.Logger
	metrics  *monitoring.Metrics

	storeMu sync.Mutex
	store   cache.Store

	pending sync.WaitGroup
}

// NewInterceptor creates an interceptor.
func NewInterceptor(opts InterceptorOptions) *Interceptor {
	return &Interceptor{
		versions: opts.Versions,
		fetcher:  opts.Fetcher,
		policy:   opts.Policy,
		base:     opts.BasePath,
		log:      logging.OrNop(opts.Logger).Component("interceptor"),
		metrics:  opts.Metrics,
	}
}

// Handle answers req. It never fails: when neither network nor cache can
// serve the request it returns cache.Unavailable().
func (i *Interceptor) Handle(ctx context.Context, req cache.Request) *cache.Response {
	if req.IsNavigation() {
		return i.navigate(ctx, req)
	}

	store := i.openStore(ctx)
	if store != nil {
		cached, err := store.Match(ctx, req)
		if err != nil {
			i.log.Warn("cache lookup failed", zap.String("url", req.URL), zap.Error(err))
		}
		if cached != nil {
			i.metrics.RecordLookup(true)
			return cached
		}
	}
	i.metrics.RecordLookup(false)

	resp, err := i.fetcher.Fetch(ctx, req)
	if err != nil {
		i.log.Error("fetch failed", zap.String("url", req.URL), zap.Error(err))
		i.metrics.RecordFallback("unavailable")
		return cache.Unavailable()
	}

	if store != nil && i.policy.Cacheable(req, resp) {
		i.cacheInBackground(ctx, store, req, resp.Clone())
	}
	return resp
}

// navigate goes to the network first and falls back to the cached root
// document, trying the base-path root before the bare root.
func (i *Interceptor) navigate(ctx context.Context, req cache.Request) *cache.Response {
	resp, err := i.fetcher.Fetch(ctx, req)
	if err == nil {
		return resp
	}
	i.log.Warn("navigation fetch failed, serving cached shell", zap.String("url", req.URL), zap.Error(err))

	if store := i.openStore(ctx); store != nil {
		for _, root := range i.fallbackRoots() {
			cached, err := store.Match(ctx, cache.NewRequest(root))
			if err != nil {
				i.log.Warn("cache lookup failed", zap.String("url", root), zap.Error(err))
				continue
			}
			if cached != nil {
				i.metrics.RecordFallback("navigation")
				return cached
			}
		}
	}

	i.metrics.RecordFallback("unavailable")
	return cache.Unavailable()
}

func (i *Interceptor) fallbackRoots() []string {
	bare, err := paths.Resolve(i.versions.origin, "/")
	if err != nil {
		return nil
	}
	if i.base == "" {
		return []string{bare}
	}
	prefixed, err := paths.Resolve(i.versions.origin, paths.Join(i.base, "/"))
	if err != nil {
		return []string{bare}
	}
	return []string{prefixed, bare}
}

// cacheInBackground writes resp and prunes without holding up the caller.
// The write outlives ctx.
func (i *Interceptor) cacheInBackground(ctx context.Context, store cache.Store, req cache.Request, resp *cache.Response) {
	ctx = context.WithoutCancel(ctx)
	i.pending.Add(1)
	go func() {
		defer i.pending.Done()

		err := store.Put(ctx, req, resp)
		i.metrics.RecordPut(err)
		if err != nil {
			i.log.Error("failed to cache response", zap.String("url", req.URL), zap.Error(err))
			return
		}
		if _, err := i.policy.Prune(ctx, store); err != nil {
			i.log.Warn("prune failed", zap.String("store", store.Name()), zap.Error(err))
		}
	}()
}

// Wait blocks until every background cache write has finished.
func (i *Interceptor) Wait() {
	i.pending.Wait()
}

func (i *Interceptor) openStore(ctx context.Context) cache.Store {
	i.storeMu.Lock()
	defer i.storeMu.Unlock()

	if i.store != nil {
		return i.store
	}
	store, err := i.versions.Store(ctx)
	if err != nil {
		i.log.Error("failed to open cache store", zap.Error(err))
		return nil
	}
	i.store = store
	return store
}
