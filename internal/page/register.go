package page

import (
	"context"

	"go.uber.org/zap"

	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/protocol"
	"github.com/richardjypark/maskmytext.com/internal/shared/paths"
)

// Options configures Register. Every field is optional.
type Options struct {
	OnUpdateAvailable  func()
	OnControllerChange func()
	OnCacheUpdated     func(version string)
	// Deployment selects the script location; the zero value means
	// paths.DefaultDeployment().
	Deployment paths.Deployment
	Logger     *logging.Logger
}

func (o Options) deployment() paths.Deployment {
	if len(o.Deployment.ProductionHosts) == 0 && o.Deployment.PathPrefix == "" {
		return paths.DefaultDeployment()
	}
	return o.Deployment
}

// ResolveScriptPath returns the agent script location for a page at loc.
func ResolveScriptPath(d paths.Deployment, loc Location) string {
	return d.ScriptPath(loc.Hostname, loc.Pathname)
}

// Handle is the page's update control surface.
type Handle struct {
	reg     Registration
	session *Session
	done    chan struct{}
}

// Register registers the agent for the page at loc and starts consuming the
// container's events until they end or ctx is done. It returns nil when the
// container is missing or registration fails; the page then simply runs
// without offline support.
func Register(ctx context.Context, c Container, loc Location, opts Options) *Handle {
	log := logging.OrNop(opts.Logger).Component("page")
	if c == nil {
		log.Warn("background agent unavailable")
		return nil
	}

	session := NewSession(c.Controller() != nil, opts)
	events := c.Events()

	scriptPath := ResolveScriptPath(opts.deployment(), loc)
	log.Info("registering background agent", zap.String("script", scriptPath))

	reg, err := c.Register(ctx, scriptPath)
	if err != nil {
		log.Error("background agent registration failed", zap.String("script", scriptPath), zap.Error(err))
		return nil
	}
	log.Info("background agent registered")

	if w := reg.Waiting(); w != nil && c.Controller() != nil {
		session.announce(w)
	}
	session.Track(reg.Installing())

	h := &Handle{reg: reg, session: session, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		session.Run(ctx, events)
	}()
	return h
}

// ApplyUpdate tells the waiting worker to take control. It reports whether
// a command was sent; with nothing waiting it does nothing.
func (h *Handle) ApplyUpdate() bool {
	w := h.reg.Waiting()
	if w == nil {
		w = h.session.Waiting()
	}
	if w == nil {
		return false
	}
	return w.PostMessage(protocol.SkipWaiting(string(w.Version())))
}

// Session returns the page session.
func (h *Handle) Session() *Session { return h.session }

// Done is closed once the page's event stream has ended.
func (h *Handle) Done() <-chan struct{} { return h.done }
