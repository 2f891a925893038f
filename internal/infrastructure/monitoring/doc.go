// Package monitoring provides Prometheus metrics for the caching gateway.
//
// Each Metrics value owns a private registry; Handler exposes it for the
// /metrics route. Metric families:
//   - gateway_http_*: HTTP surface
//   - agent_cache_*, agent_network_*, agent_fallbacks_*: fetch interception
//   - agent_install_*, agent_stores_*, agent_keys_*: version management
//   - agent_lifecycle_*, agent_notifications_*: update coordination
//   - gateway_ws_*: notification bridge
package monitoring
