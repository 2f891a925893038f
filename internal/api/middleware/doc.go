// Package middleware provides the gin middleware of the gateway: CORS for
// cross-origin admin clients and per-client rate limiting.
package middleware
