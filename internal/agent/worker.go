package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
	"github.com/richardjypark/maskmytext.com/internal/protocol"
	"github.com/richardjypark/maskmytext.com/internal/shared/id"
)

// inboxSize bounds queued commands per worker; further commands are dropped.
const inboxSize = 16

// Worker is one agent instance bound to one cache version.
type Worker struct {
	versions    *VersionManager
	interceptor *Interceptor
	log         *logging.Logger
	metrics     *monitoring.Metrics

	mu        sync.RWMutex
	state     protocol.State
	listeners map[int]func(protocol.State)
	nextID    int

	inbox     chan protocol.Message
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWorker creates a worker in the parsed state.
func NewWorker(versions *VersionManager, interceptor *Interceptor, logger *logging.Logger, metrics *monitoring.Metrics) *Worker {
	return &Worker{
		versions:    versions,
		interceptor: interceptor,
		log:         logging.OrNop(logger).Component("worker").WithVersion(string(versions.Version())),
		metrics:     metrics,
		state:       protocol.StateParsed,
		listeners:   make(map[int]func(protocol.State)),
		inbox:       make(chan protocol.Message, inboxSize),
		done:        make(chan struct{}),
	}
}

// Version returns the cache version this worker serves.
func (w *Worker) Version() id.VersionID { return w.versions.Version() }

// Versions returns the worker's version manager.
func (w *Worker) Versions() *VersionManager { return w.versions }

// State returns the current lifecycle state.
func (w *Worker) State() protocol.State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// OnStateChange registers fn to be called after every state change. The
// returned function removes it.
func (w *Worker) OnStateChange(fn func(protocol.State)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := w.nextID
	w.nextID++
	w.listeners[key] = fn
	return func() {
		w.mu.Lock()
		delete(w.listeners, key)
		w.mu.Unlock()
	}
}

// PostMessage queues a command for the worker. It never blocks; it reports
// false when the command was dropped.
func (w *Worker) PostMessage(msg protocol.Message) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.inbox <- msg:
		return true
	default:
		w.log.Warn("worker inbox full, dropping command", zap.String("action", msg.Action))
		return false
	}
}

// Fetch answers an intercepted request.
func (w *Worker) Fetch(ctx context.Context, req cache.Request) *cache.Response {
	return w.interceptor.Handle(ctx, req)
}

// Wait blocks until background cache writes have finished.
func (w *Worker) Wait() {
	w.interceptor.Wait()
}

// setState moves the worker to next if the transition is legal and
// notifies listeners synchronously.
func (w *Worker) setState(next protocol.State) bool {
	w.mu.Lock()
	if !w.state.CanTransition(next) {
		w.mu.Unlock()
		return false
	}
	w.state = next
	listeners := make([]func(protocol.State), 0, len(w.listeners))
	for _, fn := range w.listeners {
		listeners = append(listeners, fn)
	}
	w.mu.Unlock()

	w.log.Debug("state changed", zap.Stringer("state", next))
	w.metrics.RecordTransition(next.String())
	for _, fn := range listeners {
		fn(next)
	}
	if next == protocol.StateRedundant {
		w.stop()
	}
	return true
}

// start runs the command loop, handing every message to handle.
func (w *Worker) start(handle func(protocol.Message)) {
	w.startOnce.Do(func() {
		go func() {
			for {
				select {
				case <-w.done:
					return
				case msg := <-w.inbox:
					handle(msg)
				}
			}
		}()
	})
}

func (w *Worker) stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Done is closed once the worker has become redundant.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
