package page

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/protocol"
)

// Session is the per-page-load update state.
type Session struct {
	hadController bool
	guard         ReloadGuard

	onUpdateAvailable  func()
	onControllerChange func()
	onCacheUpdated     func(version string)
	log                *logging.Logger

	mu        sync.Mutex
	tracked   map[Worker]struct{}
	announced map[Worker]struct{}
	waiting   Worker
}

// NewSession creates a session for a page that did or did not have a
// controller when it loaded.
func NewSession(hadController bool, opts Options) *Session {
	s := &Session{
		hadController:      hadController,
		onUpdateAvailable:  opts.OnUpdateAvailable,
		onControllerChange: opts.OnControllerChange,
		onCacheUpdated:     opts.OnCacheUpdated,
		log:                logging.OrNop(opts.Logger).Component("page"),
		tracked:            make(map[Worker]struct{}),
		announced:          make(map[Worker]struct{}),
	}
	if s.onUpdateAvailable == nil {
		s.onUpdateAvailable = func() {}
	}
	if s.onControllerChange == nil {
		s.onControllerChange = func() {}
	}
	if s.onCacheUpdated == nil {
		s.onCacheUpdated = func(string) {}
	}
	return s
}

// HadController reports whether the page was controlled at load.
func (s *Session) HadController() bool { return s.hadController }

// Guard returns the session's reload guard.
func (s *Session) Guard() *ReloadGuard { return &s.guard }

// Waiting returns the last worker announced as an update, or nil.
func (s *Session) Waiting() Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// Track watches w for reaching the installed state.
func (s *Session) Track(w Worker) {
	if w == nil {
		return
	}
	s.mu.Lock()
	s.tracked[w] = struct{}{}
	s.mu.Unlock()
}

// Handle processes one event.
func (s *Session) Handle(ev Event) {
	switch ev.Kind {
	case protocol.EventUpdateFound:
		s.Track(ev.Worker)

	case protocol.EventStateChange:
		if ev.State != protocol.StateInstalled || !ev.Controlled || ev.Worker == nil {
			return
		}
		s.mu.Lock()
		_, tracked := s.tracked[ev.Worker]
		s.mu.Unlock()
		if tracked {
			s.announce(ev.Worker)
		}

	case protocol.EventControllerChange:
		if !s.guard.Trip() {
			return
		}
		s.log.Info("controller changed", zap.Bool("had_controller", s.hadController))
		if s.hadController {
			s.onControllerChange()
		}

	case protocol.EventMessage:
		if ev.Notification.Type != protocol.TypeCacheUpdated {
			return
		}
		version := ev.Notification.Version
		if version == "" {
			version = protocol.UnknownVersion
		}
		s.onCacheUpdated(version)
	}
}

// announce reports w as an available update, once per worker.
func (s *Session) announce(w Worker) {
	s.mu.Lock()
	if _, done := s.announced[w]; done {
		s.mu.Unlock()
		return
	}
	s.announced[w] = struct{}{}
	s.waiting = w
	s.mu.Unlock()

	s.log.Info("update available", zap.String("version", string(w.Version())))
	s.onUpdateAvailable()
}

// Run handles events until the channel closes or ctx is done.
func (s *Session) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Handle(ev)
		}
	}
}
