package host

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/richardjypark/maskmytext.com/internal/agent"
	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
	"github.com/richardjypark/maskmytext.com/internal/network"
	"github.com/richardjypark/maskmytext.com/internal/page"
	"github.com/richardjypark/maskmytext.com/internal/protocol"
	"github.com/richardjypark/maskmytext.com/internal/shared/id"
	"github.com/richardjypark/maskmytext.com/internal/shared/paths"
)

// ErrScriptNotFound is returned when a page registers an unknown script.
var ErrScriptNotFound = errors.New("host: agent script not found")

// eventBuffer bounds undelivered events per page; a page that falls this
// far behind loses events.
const eventBuffer = 64

// Options configures a Host.
type Options struct {
	Factory *agent.Factory
	// Fetcher serves requests while no worker is active.
	Fetcher network.Fetcher
	// Build names the first version; empty derives one from the clock.
	Build   string
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Host runs the agent registration and the attached pages.
type Host struct {
	factory *agent.Factory
	fetcher network.Fetcher
	build   string
	reg     *agent.Registration
	log     *logging.Logger
	metrics *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	installOnce sync.Once
	installErr  error
	installDone chan struct{}

	mu    sync.RWMutex
	pages map[id.ClientID]*Page
}

// New creates a host. No worker exists until Install or the first page
// registration.
func New(opts Options) (*Host, error) {
	if opts.Factory == nil || opts.Fetcher == nil {
		return nil, errors.New("host requires a factory and a fetcher")
	}
	log := logging.OrNop(opts.Logger).Component("host")
	ctx, cancel := context.WithCancel(context.Background())

	h := &Host{
		factory:     opts.Factory,
		fetcher:     opts.Fetcher,
		build:       opts.Build,
		log:         log,
		metrics:     opts.Metrics,
		ctx:         ctx,
		cancel:      cancel,
		installDone: make(chan struct{}),
		pages:       make(map[id.ClientID]*Page),
	}
	h.reg = agent.NewRegistration(agent.RegistrationOptions{
		Scope:   paths.Join(opts.Factory.BasePath(), "/"),
		Clients: h,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	h.reg.Subscribe(h.dispatch)
	return h, nil
}

// Registration returns the agent registration.
func (h *Host) Registration() *agent.Registration { return h.reg }

// Install installs the first version once; later calls wait for and return
// the first result.
func (h *Host) Install(ctx context.Context) error {
	h.startInstall()
	select {
	case <-h.installDone:
		return h.installErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Update deploys a new version built from build.
func (h *Host) Update(ctx context.Context, build string) (*agent.Worker, error) {
	w, err := h.factory.NewWorker(build)
	if err != nil {
		return nil, err
	}
	if err := h.reg.Update(ctx, w); err != nil {
		return w, err
	}
	return w, nil
}

// startInstall installs the first version in the background, once.
func (h *Host) startInstall() {
	h.installOnce.Do(func() {
		go func() {
			defer close(h.installDone)
			if _, err := h.Update(h.ctx, h.build); err != nil {
				h.installErr = err
				h.log.Error("initial install failed", zap.Error(err))
			}
		}()
	})
}

// SkipWaiting posts skipWaiting to the waiting worker. It reports false when
// nothing is waiting or the version does not match.
func (h *Host) SkipWaiting(version string) bool {
	w := h.reg.Waiting()
	if w == nil {
		return false
	}
	if version != "" && version != string(w.Version()) {
		return false
	}
	return w.PostMessage(protocol.SkipWaiting(string(w.Version())))
}

// Fetch answers a request that is not tied to an attached page.
func (h *Host) Fetch(ctx context.Context, req cache.Request) *cache.Response {
	return h.fetchVia(ctx, h.reg.Active(), req)
}

func (h *Host) fetchVia(ctx context.Context, w *agent.Worker, req cache.Request) *cache.Response {
	if w != nil {
		return w.Fetch(ctx, req)
	}
	resp, err := h.fetcher.Fetch(ctx, req)
	if err != nil {
		h.log.Warn("uncontrolled fetch failed", zap.String("url", req.URL), zap.Error(err))
		return cache.Unavailable()
	}
	return resp
}

// Attach opens a page at url. The page starts controlled by the active
// worker, if any.
func (h *Host) Attach(url string) *Page {
	p := &Page{
		id:         id.NewClientID(),
		url:        url,
		host:       h,
		controller: h.reg.Active(),
		events:     make(chan page.Event, eventBuffer),
	}

	h.mu.Lock()
	h.pages[p.id] = p
	h.mu.Unlock()

	h.log.Debug("page attached", zap.String("client", string(p.id)), zap.String("url", url))
	return p
}

// Detach closes the page. Events for it are dropped from now on.
func (h *Host) Detach(p *Page) {
	h.mu.Lock()
	delete(h.pages, p.id)
	h.mu.Unlock()

	p.close()
	h.log.Debug("page detached", zap.String("client", string(p.id)))
}

// Pages returns the number of attached pages.
func (h *Host) Pages() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pages)
}

func (h *Host) snapshot() []*Page {
	h.mu.RLock()
	defer h.mu.RUnlock()
	pages := make([]*Page, 0, len(h.pages))
	for _, p := range h.pages {
		pages = append(pages, p)
	}
	return pages
}

// MatchAll returns every attached page.
func (h *Host) MatchAll(context.Context) []agent.Client {
	pages := h.snapshot()
	clients := make([]agent.Client, len(pages))
	for i, p := range pages {
		clients[i] = p
	}
	return clients
}

// Claim makes w the controller of every attached page.
func (h *Host) Claim(_ context.Context, w *agent.Worker) error {
	for _, p := range h.snapshot() {
		p.setController(w)
	}
	return nil
}

// dispatch fans registration events out to pages, stamped with whether
// each page is controlled at this instant.
func (h *Host) dispatch(ev agent.Event) {
	for _, p := range h.snapshot() {
		p.deliver(page.Event{
			Kind:       ev.Kind,
			Worker:     workerOrNil(ev.Worker),
			State:      ev.State,
			Controlled: p.Controller() != nil,
		})
	}
}

func (h *Host) register(ctx context.Context, scriptPath string) (page.Registration, error) {
	if path.Base(scriptPath) != paths.ScriptName {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, scriptPath)
	}
	if err := h.ctx.Err(); err != nil {
		return nil, fmt.Errorf("host closed: %w", err)
	}
	h.startInstall()
	return registration{h.reg}, nil
}

// Close stops the registration and detaches every page.
func (h *Host) Close() {
	h.cancel()
	h.reg.Close()
	for _, p := range h.snapshot() {
		h.Detach(p)
	}
}

var _ agent.Clients = (*Host)(nil)

// registration adapts agent.Registration to page.Registration.
type registration struct {
	reg *agent.Registration
}

func (r registration) Installing() page.Worker { return workerOrNil(r.reg.Installing()) }
func (r registration) Waiting() page.Worker    { return workerOrNil(r.reg.Waiting()) }

// workerOrNil avoids handing out a typed nil inside a non-nil interface.
func workerOrNil(w *agent.Worker) page.Worker {
	if w == nil {
		return nil
	}
	return w
}
