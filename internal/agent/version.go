package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
	"github.com/richardjypark/maskmytext.com/internal/network"
	"github.com/richardjypark/maskmytext.com/internal/shared/id"
)

// installConcurrency bounds parallel app-shell fetches.
const installConcurrency = 8

// VersionOptions configures a VersionManager.
type VersionOptions struct {
	Version  id.VersionID
	Origin   *url.URL
	Manifest Manifest
	Storage  cache.Storage
	Fetcher  network.Fetcher
	Healers  []KeyHealer
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
}

// VersionManager owns one cache version: it seeds the version's store and
// removes every other version's store. It is the only component that
// deletes whole stores.
type VersionManager struct {
	version  id.VersionID
	origin   *url.URL
	manifest Manifest
	storage  cache.Storage
	fetcher  network.Fetcher
	healers  []KeyHealer
	log      *logging.Logger
	metrics  *monitoring.Metrics
}

// InstallReport describes the outcome of an install.
type InstallReport struct {
	// Bulk is true when the all-or-nothing population succeeded.
	Bulk   bool
	Cached []string
	Failed []string
}

// ActivateReport describes the outcome of an activation cleanup.
type ActivateReport struct {
	DeletedStores []string
	HealedKeys    []string
}

// NewVersionManager creates a version manager.
func NewVersionManager(opts VersionOptions) (*VersionManager, error) {
	if err := id.ValidateVersion(opts.Version); err != nil {
		return nil, err
	}
	if opts.Storage == nil || opts.Fetcher == nil || opts.Origin == nil {
		return nil, errors.New("version manager requires storage, fetcher and origin")
	}
	if err := opts.Manifest.Validate(opts.Origin); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	return &VersionManager{
		version:  opts.Version,
		origin:   opts.Origin,
		manifest: opts.Manifest,
		storage:  opts.Storage,
		fetcher:  opts.Fetcher,
		healers:  opts.Healers,
		log:      logging.OrNop(opts.Logger).Component("versions").WithVersion(string(opts.Version)),
		metrics:  opts.Metrics,
	}, nil
}

// Version returns the managed version.
func (m *VersionManager) Version() id.VersionID { return m.version }

// Manifest returns the app shell of this version.
func (m *VersionManager) Manifest() Manifest { return m.manifest }

// Store opens the current version's store, creating it if absent.
func (m *VersionManager) Store(ctx context.Context) (cache.Store, error) {
	return m.storage.Open(ctx, string(m.version))
}

// Install seeds the current store from the manifest. It first tries an
// all-or-nothing population; if any asset fails it falls back to caching
// each asset independently. Per-asset failures are logged and reported but
// never returned: the only error is failing to open the store.
func (m *VersionManager) Install(ctx context.Context) (InstallReport, error) {
	store, err := m.Store(ctx)
	if err != nil {
		return InstallReport{}, fmt.Errorf("open store %s: %w", m.version, err)
	}

	urls, err := m.manifest.URLs(m.origin)
	if err != nil {
		return InstallReport{}, err
	}

	fetched, err := m.addAll(ctx, store, urls)
	if err == nil {
		report := InstallReport{Bulk: true, Cached: urls}
		m.metrics.RecordInstall(len(urls), 0)
		m.log.Info("app shell cached", zap.Int("assets", len(urls)))
		return report, nil
	}

	m.log.Warn("bulk cache population failed, caching assets individually", zap.Error(err))
	report := m.addEach(ctx, store, urls, fetched)
	m.metrics.RecordInstall(len(report.Cached), len(report.Failed))
	m.log.Info("app shell cached individually",
		zap.Int("cached", len(report.Cached)),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

// addAll fetches every url and writes the store only if all succeeded. It
// returns whatever good responses it collected so the fallback can reuse
// them.
func (m *VersionManager) addAll(ctx context.Context, store cache.Store, urls []string) ([]*cache.Response, error) {
	fetched := make([]*cache.Response, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			resp, err := m.fetch(gctx, u)
			if err != nil {
				return err
			}
			fetched[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fetched, err
	}

	for i, u := range urls {
		if err := store.Put(ctx, cache.NewRequest(u), fetched[i]); err != nil {
			return fetched, fmt.Errorf("put %s: %w", u, err)
		}
	}
	return fetched, nil
}

// addEach caches every url independently. Failures are logged only.
func (m *VersionManager) addEach(ctx context.Context, store cache.Store, urls []string, fetched []*cache.Response) InstallReport {
	ok := make([]bool, len(urls))

	var g errgroup.Group
	g.SetLimit(installConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			resp := fetched[i]
			if resp == nil {
				var err error
				if resp, err = m.fetch(ctx, u); err != nil {
					m.log.Error("failed to cache asset", zap.String("url", u), zap.Error(err))
					return nil
				}
			}
			if err := store.Put(ctx, cache.NewRequest(u), resp); err != nil {
				m.log.Error("failed to cache asset", zap.String("url", u), zap.Error(err))
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	g.Wait()

	var report InstallReport
	for i, u := range urls {
		if ok[i] {
			report.Cached = append(report.Cached, u)
		} else {
			report.Failed = append(report.Failed, u)
		}
	}
	return report
}

// fetch retrieves one asset; a non-2xx status is a failure.
func (m *VersionManager) fetch(ctx context.Context, u string) (*cache.Response, error) {
	resp, err := m.fetcher.Fetch(ctx, cache.NewRequest(u))
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", u, resp.Status)
	}
	return resp, nil
}

// Activate deletes every store other than the current version's and those
// named in retain, then removes known-bad keys from the current store.
// Stores are only ever deleted by explicit name, so a store another worker
// is still populating survives when listed in retain.
func (m *VersionManager) Activate(ctx context.Context, retain ...id.VersionID) (ActivateReport, error) {
	keep := map[string]struct{}{string(m.version): {}}
	for _, v := range retain {
		keep[string(v)] = struct{}{}
	}

	names, err := m.storage.Names(ctx)
	if err != nil {
		return ActivateReport{}, fmt.Errorf("list stores: %w", err)
	}

	var report ActivateReport
	var errs []error
	for _, name := range names {
		if _, ok := keep[name]; ok {
			continue
		}
		deleted, err := m.storage.Delete(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete store %s: %w", name, err))
			continue
		}
		if deleted {
			report.DeletedStores = append(report.DeletedStores, name)
		}
	}

	healed, err := m.heal(ctx)
	report.HealedKeys = healed
	if err != nil {
		errs = append(errs, err)
	}

	m.metrics.RecordCleanup(len(report.DeletedStores), len(report.HealedKeys))
	m.log.Info("old caches cleaned up",
		zap.Strings("deleted_stores", report.DeletedStores),
		zap.Int("healed_keys", len(report.HealedKeys)))
	return report, errors.Join(errs...)
}

func (m *VersionManager) heal(ctx context.Context) ([]string, error) {
	if len(m.healers) == 0 {
		return nil, nil
	}
	exists, err := m.storage.Has(ctx, string(m.version))
	if err != nil || !exists {
		return nil, err
	}
	store, err := m.Store(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	var (
		mu     sync.Mutex
		healed []string
		g      errgroup.Group
	)
	for _, k := range keys {
		healer := m.brokenBy(k)
		if healer == nil {
			continue
		}
		g.Go(func() error {
			deleted, err := store.Delete(ctx, k)
			if err != nil {
				return fmt.Errorf("heal %s: %w", k.URL, err)
			}
			if deleted {
				m.log.Debug("removed bad cache key", zap.String("healer", healer.Name()), zap.String("url", k.URL))
				mu.Lock()
				healed = append(healed, k.URL)
				mu.Unlock()
			}
			return nil
		})
	}
	return healed, g.Wait()
}

func (m *VersionManager) brokenBy(req cache.Request) KeyHealer {
	for _, h := range m.healers {
		if h.Broken(req) {
			return h
		}
	}
	return nil
}
