// Package ws bridges remote pages to the agent over WebSocket.
//
// Each connection attaches one page to the host and registers it, so the
// page sees the same update lifecycle as an in-process one.
//
// Message Types (Client → Server):
//   - skipWaiting: apply the waiting update, optionally pinned to a version
//   - ping: keep-alive ping
//
// Message Types (Server → Client):
//   - registered: page attached; carries the client id and controller version
//   - update_available: a new version is installed and waiting
//   - reload: the controller changed; the page should reload
//   - CACHE_UPDATED: a new version was activated
//   - pong, error
//
// Example Usage:
//
//	handler := ws.NewHandler(h, deployment, logger, metrics)
//	router.GET("/_agent/events", handler.HandleConnection)
package ws
