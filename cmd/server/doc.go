// Package main is the entry point for the maskmytext offline gateway.
//
// The gateway fronts the application origin and answers every page request
// through the active cached version, so the app keeps working while the
// origin is unreachable. New versions are deployed through the admin API
// and announced to connected pages, which reload once they accept them.
//
// Architecture:
//
//	Browser page ⇄ Gateway (cache + lifecycle) → Application origin
//	            ⇄ /_agent/events (WebSocket notifications)
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	./server -origin https://maskmytext.com -build $(git rev-parse --short HEAD)
//
//	# Development mode (colored console logs)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
