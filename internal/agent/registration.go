package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
	"github.com/richardjypark/maskmytext.com/internal/protocol"
	"github.com/richardjypark/maskmytext.com/internal/shared/id"
)

var (
	// ErrSuperseded is returned by Update when a newer worker replaced the
	// one being installed.
	ErrSuperseded = errors.New("agent: worker superseded")
	// ErrNotWaiting is returned when activation is requested for a worker
	// that is not the waiting one.
	ErrNotWaiting = errors.New("agent: worker is not waiting")
)

// Event is a registration-level lifecycle event.
type Event struct {
	Kind   protocol.EventKind
	Worker *Worker
	State  protocol.State
}

// RegistrationOptions configures a Registration.
type RegistrationOptions struct {
	Scope   string
	Clients Clients
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Registration owns the installing, waiting and active workers of one
// scope.
type Registration struct {
	scope    string
	clients  Clients
	notifier *Notifier
	log      *logging.Logger

	// ctx bounds activations triggered by commands.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	installing *Worker
	waiting    *Worker
	active     *Worker
	skip       map[*Worker]bool
	listeners  map[int]func(Event)
	nextID     int

	activateMu sync.Mutex
}

// WorkerStatus is a point-in-time view of one worker.
type WorkerStatus struct {
	Version id.VersionID   `json:"version"`
	State   protocol.State `json:"state"`
}

// Status is a point-in-time view of the registration.
type Status struct {
	Scope      string        `json:"scope"`
	Installing *WorkerStatus `json:"installing,omitempty"`
	Waiting    *WorkerStatus `json:"waiting,omitempty"`
	Active     *WorkerStatus `json:"active,omitempty"`
}

// NewRegistration creates an empty registration.
func NewRegistration(opts RegistrationOptions) *Registration {
	log := logging.OrNop(opts.Logger).Component("registration")
	ctx, cancel := context.WithCancel(context.Background())
	return &Registration{
		scope:     opts.Scope,
		clients:   opts.Clients,
		notifier:  NewNotifier(opts.Clients, opts.Logger, opts.Metrics),
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		skip:      make(map[*Worker]bool),
		listeners: make(map[int]func(Event)),
	}
}

// Scope returns the registration scope.
func (r *Registration) Scope() string { return r.scope }

// Installing returns the worker being installed, or nil.
func (r *Registration) Installing() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installing
}

// Waiting returns the installed worker waiting to activate, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Active returns the controlling worker, or nil.
func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Status returns a snapshot of the registration.
func (r *Registration) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Scope:      r.scope,
		Installing: workerStatus(r.installing),
		Waiting:    workerStatus(r.waiting),
		Active:     workerStatus(r.active),
	}
}

func workerStatus(w *Worker) *WorkerStatus {
	if w == nil {
		return nil
	}
	return &WorkerStatus{Version: w.Version(), State: w.State()}
}

// Subscribe registers fn for registration events. fn runs synchronously on
// the goroutine driving the lifecycle and must not block. The returned
// function removes it.
func (r *Registration) Subscribe(fn func(Event)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.nextID
	r.nextID++
	r.listeners[key] = fn
	return func() {
		r.mu.Lock()
		delete(r.listeners, key)
		r.mu.Unlock()
	}
}

func (r *Registration) emit(ev Event) {
	r.mu.Lock()
	listeners := make([]func(Event), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Update installs w. A worker installed with no active worker activates
// immediately; otherwise it waits in installed until it receives a
// skipWaiting command. A worker superseded by a later Update, before or
// after finishing install, becomes redundant.
func (r *Registration) Update(ctx context.Context, w *Worker) error {
	if w.State() != protocol.StateParsed {
		return fmt.Errorf("worker %s already %s", w.Version(), w.State())
	}

	w.OnStateChange(func(s protocol.State) {
		r.emit(Event{Kind: protocol.EventStateChange, Worker: w, State: s})
	})
	w.start(func(msg protocol.Message) { r.handleMessage(w, msg) })

	// Registering w and creating its store happen under activateMu, so an
	// activation either sees w as installing and retains its store, or has
	// finished cleaning up before the store exists.
	r.activateMu.Lock()
	r.mu.Lock()
	prev := r.installing
	r.installing = w
	r.mu.Unlock()
	_, err := w.versions.Store(ctx)
	r.activateMu.Unlock()

	if prev != nil {
		r.log.Info("installing worker superseded", zap.String("version", string(prev.Version())))
		prev.setState(protocol.StateRedundant)
	}

	if err != nil {
		r.mu.Lock()
		if r.installing == w {
			r.installing = nil
		}
		delete(r.skip, w)
		r.mu.Unlock()
		w.setState(protocol.StateRedundant)
		return fmt.Errorf("open store %s: %w", w.Version(), err)
	}

	w.setState(protocol.StateInstalling)
	r.emit(Event{Kind: protocol.EventUpdateFound, Worker: w, State: protocol.StateInstalling})

	report, err := w.versions.Install(ctx)

	r.mu.Lock()
	if r.installing != w {
		delete(r.skip, w)
		r.mu.Unlock()
		w.setState(protocol.StateRedundant)
		return ErrSuperseded
	}
	r.installing = nil
	if err != nil {
		delete(r.skip, w)
		r.mu.Unlock()
		w.setState(protocol.StateRedundant)
		return fmt.Errorf("install %s: %w", w.Version(), err)
	}
	prevWaiting := r.waiting
	r.waiting = w
	activateNow := r.active == nil || r.skip[w]
	delete(r.skip, w)
	r.mu.Unlock()

	if prevWaiting != nil {
		r.log.Info("waiting worker superseded", zap.String("version", string(prevWaiting.Version())))
		prevWaiting.setState(protocol.StateRedundant)
	}

	r.log.Info("worker installed",
		zap.String("version", string(w.Version())),
		zap.Bool("bulk", report.Bulk),
		zap.Int("failed", len(report.Failed)))
	w.setState(protocol.StateInstalled)

	if activateNow {
		return r.activate(ctx, w)
	}
	return nil
}

func (r *Registration) handleMessage(w *Worker, msg protocol.Message) {
	switch msg.Action {
	case protocol.ActionSkipWaiting:
		if msg.Version != "" && msg.Version != string(w.Version()) {
			r.log.Warn("skipWaiting addressed to another version",
				zap.String("worker", string(w.Version())),
				zap.String("target", msg.Version))
			return
		}
		if err := r.SkipWaiting(w); err != nil {
			r.log.Debug("skipWaiting ignored", zap.String("version", string(w.Version())), zap.Error(err))
		}
	default:
		r.log.Warn("unknown command", zap.String("action", msg.Action))
	}
}

// SkipWaiting activates w if it is waiting. A worker still installing
// activates as soon as it has installed.
func (r *Registration) SkipWaiting(w *Worker) error {
	r.mu.Lock()
	if r.installing == w {
		r.skip[w] = true
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	return r.activate(r.ctx, w)
}

// activate promotes the waiting worker w: the previous active worker
// becomes redundant, stale stores are cleaned, w takes control of every
// client and clients are told the cache changed.
func (r *Registration) activate(ctx context.Context, w *Worker) error {
	r.activateMu.Lock()
	defer r.activateMu.Unlock()

	r.mu.Lock()
	if r.waiting != w {
		r.mu.Unlock()
		return ErrNotWaiting
	}
	r.waiting = nil
	prev := r.active
	r.active = w
	var retain []id.VersionID
	if r.installing != nil {
		retain = append(retain, r.installing.Version())
	}
	r.mu.Unlock()

	if prev != nil {
		prev.setState(protocol.StateRedundant)
	}
	w.setState(protocol.StateActivating)

	if _, err := w.versions.Activate(ctx, retain...); err != nil {
		r.log.Error("cache cleanup failed", zap.String("version", string(w.Version())), zap.Error(err))
	}
	w.setState(protocol.StateActivated)

	if r.clients != nil {
		if err := r.clients.Claim(ctx, w); err != nil {
			r.log.Error("claim failed", zap.String("version", string(w.Version())), zap.Error(err))
		}
		r.notifier.Broadcast(ctx, w.Version())
	}
	r.log.Info("worker activated", zap.String("version", string(w.Version())))
	return nil
}

// Close stops every worker and cancels pending activations.
func (r *Registration) Close() {
	r.cancel()

	r.mu.Lock()
	workers := []*Worker{r.installing, r.waiting, r.active}
	r.mu.Unlock()

	for _, w := range workers {
		if w != nil {
			w.stop()
		}
	}
}
