package agent

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
	"github.com/richardjypark/maskmytext.com/internal/network"
	"github.com/richardjypark/maskmytext.com/internal/shared/id"
)

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	Origin   *url.URL
	BasePath string
	// Shell is the app shell relative to BasePath. Nil selects DefaultShell.
	Shell         []string
	VersionPrefix string
	Storage       cache.Storage
	Fetcher       network.Fetcher
	Extensions    ExtensionSet
	Threshold     int
	Healers       []KeyHealer
	IDs           *id.Generator
	Now           func() time.Time
	Logger        *logging.Logger
	Metrics       *monitoring.Metrics
}

// Factory builds fully wired workers for new versions.
type Factory struct {
	opts     FactoryOptions
	manifest Manifest
}

// NewFactory validates opts and computes the manifest.
func NewFactory(opts FactoryOptions) (*Factory, error) {
	if opts.Origin == nil {
		return nil, errors.New("factory requires an origin")
	}
	if opts.Storage == nil || opts.Fetcher == nil {
		return nil, errors.New("factory requires storage and fetcher")
	}
	if opts.Shell == nil {
		opts.Shell = DefaultShell()
	}
	if len(opts.Extensions.suffixes) == 0 {
		opts.Extensions = DefaultExtensions()
	}
	if opts.IDs == nil {
		opts.IDs = id.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	manifest := BuildManifest(opts.BasePath, opts.Shell)
	if err := manifest.Validate(opts.Origin); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &Factory{opts: opts, manifest: manifest}, nil
}

// Manifest returns the app shell every worker installs.
func (f *Factory) Manifest() Manifest { return f.manifest }

// BasePath returns the deployment prefix.
func (f *Factory) BasePath() string { return f.opts.BasePath }

// NewWorker creates a parsed worker for build. An empty build derives the
// version from the current time.
func (f *Factory) NewWorker(build string) (*Worker, error) {
	version := f.opts.IDs.VersionID(f.opts.VersionPrefix, build, f.opts.Now())

	versions, err := NewVersionManager(VersionOptions{
		Version:  version,
		Origin:   f.opts.Origin,
		Manifest: f.manifest,
		Storage:  f.opts.Storage,
		Fetcher:  f.opts.Fetcher,
		Healers:  f.opts.Healers,
		Logger:   f.opts.Logger,
		Metrics:  f.opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	policy := NewPolicy(PolicyOptions{
		Origin:     f.opts.Origin,
		Extensions: f.opts.Extensions,
		Threshold:  f.opts.Threshold,
		Logger:     f.opts.Logger,
		Metrics:    f.opts.Metrics,
	})

	interceptor := NewInterceptor(InterceptorOptions{
		Versions: versions,
		Fetcher:  f.opts.Fetcher,
		Policy:   policy,
		BasePath: f.opts.BasePath,
		Logger:   f.opts.Logger,
		Metrics:  f.opts.Metrics,
	})

	return NewWorker(versions, interceptor, f.opts.Logger, f.opts.Metrics), nil
}
