package host

import (
	"context"
	"sync"

	"github.com/richardjypark/maskmytext.com/internal/agent"
	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/page"
	"github.com/richardjypark/maskmytext.com/internal/protocol"
	"github.com/richardjypark/maskmytext.com/internal/shared/id"
)

// Page is one attached page. It is both the page's Container and the
// agent's Client.
type Page struct {
	id   id.ClientID
	url  string
	host *Host

	mu         sync.RWMutex
	controller *agent.Worker
	events     chan page.Event
	closed     bool
}

// ID returns the page's client id.
func (p *Page) ID() id.ClientID { return p.id }

// URL returns the URL the page was opened at.
func (p *Page) URL() string { return p.url }

// Controller returns the controlling worker, or nil.
func (p *Page) Controller() page.Worker {
	return workerOrNil(p.worker())
}

func (p *Page) worker() *agent.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.controller
}

// Register registers the agent script for this page.
func (p *Page) Register(ctx context.Context, scriptPath string) (page.Registration, error) {
	return p.host.register(ctx, scriptPath)
}

// Events streams events addressed to this page until it is detached.
func (p *Page) Events() <-chan page.Event { return p.events }

// PostMessage delivers a notification to the page without blocking.
func (p *Page) PostMessage(n protocol.Notification) bool {
	return p.deliver(page.Event{
		Kind:         protocol.EventMessage,
		Notification: n,
		Controlled:   p.worker() != nil,
	})
}

// Fetch answers a request made by this page.
func (p *Page) Fetch(ctx context.Context, req cache.Request) *cache.Response {
	return p.host.fetchVia(ctx, p.worker(), req)
}

func (p *Page) setController(w *agent.Worker) {
	p.mu.Lock()
	if p.closed || p.controller == w {
		p.mu.Unlock()
		return
	}
	p.controller = w
	p.mu.Unlock()

	p.deliver(page.Event{Kind: protocol.EventControllerChange, Worker: workerOrNil(w), Controlled: true})
}

func (p *Page) deliver(ev page.Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.events <- ev:
		return true
	default:
		return false
	}
}

func (p *Page) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
}

var (
	_ page.Container = (*Page)(nil)
	_ agent.Client   = (*Page)(nil)
)
