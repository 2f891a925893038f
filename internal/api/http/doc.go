// Package http provides the gin HTTP surface of the offline gateway.
//
// Control endpoints live under the admin prefix; every other request is
// answered by the fetch interceptor of the active worker.
//
// Endpoints:
//   - Health: /health
//   - Status: <prefix>/status
//   - Deploy: <prefix>/update, <prefix>/skip-waiting
//   - Everything else: intercepted
//
// Example Usage:
//
//	handlers := http.NewHandlers(h, origin, metrics)
//	router.GET("/health", handlers.Health)
//	router.NoRoute(handlers.Intercept)
package http
