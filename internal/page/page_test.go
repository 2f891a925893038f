package page

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardjypark/maskmytext.com/internal/protocol"
	"github.com/richardjypark/maskmytext.com/internal/shared/id"
	"github.com/richardjypark/maskmytext.com/internal/shared/paths"
)

type fakeWorker struct {
	version id.VersionID
	state   protocol.State

	mu   sync.Mutex
	sent []protocol.Message
}

func (w *fakeWorker) Version() id.VersionID { return w.version }
func (w *fakeWorker) State() protocol.State { return w.state }

func (w *fakeWorker) PostMessage(msg protocol.Message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent = append(w.sent, msg)
	return true
}

func (w *fakeWorker) messages() []protocol.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]protocol.Message(nil), w.sent...)
}

type fakeRegistration struct {
	installing Worker
	waiting    Worker
}

func (r *fakeRegistration) Installing() Worker { return r.installing }
func (r *fakeRegistration) Waiting() Worker    { return r.waiting }

type fakeContainer struct {
	controller Worker
	reg        *fakeRegistration
	err        error
	events     chan Event
	script     string
}

func newFakeContainer(controller Worker) *fakeContainer {
	return &fakeContainer{
		controller: controller,
		reg:        &fakeRegistration{},
		events:     make(chan Event, 16),
	}
}

func (c *fakeContainer) Controller() Worker { return c.controller }

func (c *fakeContainer) Register(_ context.Context, scriptPath string) (Registration, error) {
	c.script = scriptPath
	if c.err != nil {
		return nil, c.err
	}
	return c.reg, nil
}

func (c *fakeContainer) Events() <-chan Event { return c.events }

type callbacks struct {
	updates  atomic.Int32
	reloads  atomic.Int32
	mu       sync.Mutex
	versions []string
}

func (cb *callbacks) options() Options {
	return Options{
		OnUpdateAvailable:  func() { cb.updates.Add(1) },
		OnControllerChange: func() { cb.reloads.Add(1) },
		OnCacheUpdated: func(v string) {
			cb.mu.Lock()
			cb.versions = append(cb.versions, v)
			cb.mu.Unlock()
		},
	}
}

func (cb *callbacks) cacheVersions() []string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return append([]string(nil), cb.versions...)
}

var local = Location{Hostname: "localhost", Pathname: "/"}

func TestResolveScriptPath(t *testing.T) {
	d := paths.DefaultDeployment()

	tests := []struct {
		name string
		loc  Location
		want string
	}{
		{"production", Location{"maskmytext.com", "/"}, "/service-worker.js"},
		{"production www", Location{"www.maskmytext.com", "/index.html"}, "/service-worker.js"},
		{"github pages", Location{"richardjypark.github.io", "/maskmytext.com/"}, "/maskmytext.com/service-worker.js"},
		{"github pages without prefix", Location{"richardjypark.github.io", "/other/"}, "./service-worker.js"},
		{"local", Location{"localhost", "/"}, "./service-worker.js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveScriptPath(d, tt.loc))
		})
	}
}

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("https://richardjypark.github.io:443/maskmytext.com/?q=1")
	require.NoError(t, err)
	assert.Equal(t, Location{Hostname: "richardjypark.github.io", Pathname: "/maskmytext.com/"}, loc)

	loc, err = ParseLocation("http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "/", loc.Pathname)
}

func TestRegisterWithoutContainerReturnsNil(t *testing.T) {
	assert.Nil(t, Register(context.Background(), nil, local, Options{}))
}

func TestRegisterFailureReturnsNil(t *testing.T) {
	c := newFakeContainer(nil)
	c.err = errors.New("registration rejected")

	assert.Nil(t, Register(context.Background(), c, local, Options{}))
	assert.Equal(t, "./service-worker.js", c.script)
}

func TestRegisterUsesDeployment(t *testing.T) {
	c := newFakeContainer(nil)
	h := Register(context.Background(), c, Location{"maskmytext.com", "/"}, Options{})
	require.NotNil(t, h)
	assert.Equal(t, "/service-worker.js", c.script)
}

func TestUpdateAvailableFiresOnceWithController(t *testing.T) {
	var cb callbacks
	active := &fakeWorker{version: "v1", state: protocol.StateActivated}
	next := &fakeWorker{version: "v2"}

	c := newFakeContainer(active)
	h := Register(context.Background(), c, local, cb.options())
	require.NotNil(t, h)

	c.events <- Event{Kind: protocol.EventUpdateFound, Worker: next, State: protocol.StateInstalling, Controlled: true}
	c.events <- Event{Kind: protocol.EventStateChange, Worker: next, State: protocol.StateInstalling, Controlled: true}
	c.events <- Event{Kind: protocol.EventStateChange, Worker: next, State: protocol.StateInstalled, Controlled: true}
	c.events <- Event{Kind: protocol.EventStateChange, Worker: next, State: protocol.StateInstalled, Controlled: true}
	close(c.events)
	<-h.Done()

	assert.Equal(t, int32(1), cb.updates.Load())
	assert.Same(t, next, h.Session().Waiting())
}

func TestFirstInstallIsNotAnUpdate(t *testing.T) {
	var cb callbacks
	first := &fakeWorker{version: "v1"}

	c := newFakeContainer(nil)
	c.reg.installing = first
	h := Register(context.Background(), c, local, cb.options())
	require.NotNil(t, h)

	c.events <- Event{Kind: protocol.EventStateChange, Worker: first, State: protocol.StateInstalled, Controlled: false}
	c.events <- Event{Kind: protocol.EventStateChange, Worker: first, State: protocol.StateActivated, Controlled: false}
	c.events <- Event{Kind: protocol.EventControllerChange, Worker: first, Controlled: true}
	close(c.events)
	<-h.Done()

	assert.Zero(t, cb.updates.Load())
	assert.Zero(t, cb.reloads.Load(), "no reload on first visit")
	assert.True(t, h.Session().Guard().Tripped())
}

func TestUntrackedWorkerIsIgnored(t *testing.T) {
	var cb callbacks
	s := NewSession(true, cb.options())

	s.Handle(Event{Kind: protocol.EventStateChange, Worker: &fakeWorker{version: "v9"}, State: protocol.StateInstalled, Controlled: true})
	assert.Zero(t, cb.updates.Load())
}

func TestWaitingWorkerAtRegistrationAnnouncesImmediately(t *testing.T) {
	var cb callbacks
	waiting := &fakeWorker{version: "v2", state: protocol.StateInstalled}

	c := newFakeContainer(&fakeWorker{version: "v1"})
	c.reg.waiting = waiting
	h := Register(context.Background(), c, local, cb.options())
	require.NotNil(t, h)

	assert.Equal(t, int32(1), cb.updates.Load())

	// The same worker reaching installed again is not a second update.
	c.reg.installing = waiting
	c.events <- Event{Kind: protocol.EventUpdateFound, Worker: waiting, Controlled: true}
	c.events <- Event{Kind: protocol.EventStateChange, Worker: waiting, State: protocol.StateInstalled, Controlled: true}
	close(c.events)
	<-h.Done()
	assert.Equal(t, int32(1), cb.updates.Load())
}

func TestWaitingWorkerWithoutControllerIsNotAnnounced(t *testing.T) {
	var cb callbacks
	c := newFakeContainer(nil)
	c.reg.waiting = &fakeWorker{version: "v2"}

	require.NotNil(t, Register(context.Background(), c, local, cb.options()))
	assert.Zero(t, cb.updates.Load())
}

func TestControllerChangeBurstReloadsOnce(t *testing.T) {
	var cb callbacks
	c := newFakeContainer(&fakeWorker{version: "v1"})
	h := Register(context.Background(), c, local, cb.options())
	require.NotNil(t, h)

	for i := 0; i < 10; i++ {
		c.events <- Event{Kind: protocol.EventControllerChange, Controlled: true}
	}
	close(c.events)
	<-h.Done()

	assert.Equal(t, int32(1), cb.reloads.Load())
}

func TestConcurrentControllerChangesReloadOnce(t *testing.T) {
	var cb callbacks
	s := NewSession(true, cb.options())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Handle(Event{Kind: protocol.EventControllerChange})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), cb.reloads.Load())
}

func TestCacheUpdatedNotification(t *testing.T) {
	var cb callbacks
	s := NewSession(false, cb.options())

	s.Handle(Event{Kind: protocol.EventMessage, Notification: protocol.CacheUpdated("mask-my-text-2")})
	s.Handle(Event{Kind: protocol.EventMessage, Notification: protocol.Notification{Type: protocol.TypeCacheUpdated}})
	s.Handle(Event{Kind: protocol.EventMessage, Notification: protocol.Notification{Type: "OTHER", Version: "x"}})

	assert.Equal(t, []string{"mask-my-text-2", protocol.UnknownVersion}, cb.cacheVersions())
}

func TestApplyUpdate(t *testing.T) {
	t.Run("posts to registration waiting worker", func(t *testing.T) {
		waiting := &fakeWorker{version: "v2"}
		c := newFakeContainer(nil)
		h := Register(context.Background(), c, local, Options{})
		require.NotNil(t, h)
		c.reg.waiting = waiting

		assert.True(t, h.ApplyUpdate())
		assert.Equal(t, []protocol.Message{protocol.SkipWaiting("v2")}, waiting.messages())
	})

	t.Run("falls back to announced worker", func(t *testing.T) {
		next := &fakeWorker{version: "v3"}
		c := newFakeContainer(&fakeWorker{version: "v1"})
		h := Register(context.Background(), c, local, Options{})
		require.NotNil(t, h)

		c.events <- Event{Kind: protocol.EventUpdateFound, Worker: next, Controlled: true}
		c.events <- Event{Kind: protocol.EventStateChange, Worker: next, State: protocol.StateInstalled, Controlled: true}
		close(c.events)
		<-h.Done()

		assert.True(t, h.ApplyUpdate())
		assert.Equal(t, []protocol.Message{protocol.SkipWaiting("v3")}, next.messages())
	})

	t.Run("no-op without waiting worker", func(t *testing.T) {
		h := Register(context.Background(), newFakeContainer(nil), local, Options{})
		require.NotNil(t, h)
		assert.False(t, h.ApplyUpdate())
	})
}

func TestSessionStopsWithContext(t *testing.T) {
	c := newFakeContainer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	h := Register(ctx, c, local, Options{})
	require.NotNil(t, h)

	cancel()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
}

func TestReloadGuard(t *testing.T) {
	var g ReloadGuard
	assert.False(t, g.Tripped())
	assert.True(t, g.Trip())
	assert.False(t, g.Trip())
	assert.True(t, g.Tripped())
}
