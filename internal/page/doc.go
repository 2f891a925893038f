// Package page implements the page side of the caching agent: registering
// the agent, watching for updates and handing control to a new version at
// most once per page lifetime.
//
// A page talks to its environment through a Container. Register resolves the
// agent script for the page's deployment, registers it and starts a Session
// that consumes the container's event stream. Sessions hold the two pieces
// of per-page state, the had-controller-at-load flag and the ReloadGuard, so
// they can be exercised without any environment at all.
package page
