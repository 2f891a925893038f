package page

import (
	"context"
	"fmt"
	"net/url"

	"github.com/richardjypark/maskmytext.com/internal/protocol"
	"github.com/richardjypark/maskmytext.com/internal/shared/id"
)

// Worker is a page's handle on one agent instance.
type Worker interface {
	Version() id.VersionID
	State() protocol.State
	// PostMessage sends a command without waiting for it to be handled.
	PostMessage(msg protocol.Message) bool
}

// Registration is a page's view of the agent registration.
type Registration interface {
	// Installing returns the installing worker, or nil.
	Installing() Worker
	// Waiting returns the installed worker waiting to activate, or nil.
	Waiting() Worker
}

// Container is the environment hosting agents for a page.
type Container interface {
	// Controller returns the worker controlling the page, or nil.
	Controller() Worker
	// Register registers the agent script at scriptPath.
	Register(ctx context.Context, scriptPath string) (Registration, error)
	// Events streams lifecycle events and messages addressed to the page.
	// The channel is closed when the page goes away.
	Events() <-chan Event
}

// Event is one lifecycle event or message delivered to a page.
type Event struct {
	Kind   protocol.EventKind
	Worker Worker
	State  protocol.State
	// Controlled reports whether the page had a controller when the event
	// was produced.
	Controlled   bool
	Notification protocol.Notification
}

// Location is the part of a page URL that selects the deployment shape.
type Location struct {
	Hostname string
	Pathname string
}

// ParseLocation extracts a Location from a page URL.
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid page url %q: %w", raw, err)
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return Location{Hostname: u.Hostname(), Pathname: p}, nil
}
