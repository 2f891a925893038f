/*
Package resilience provides the circuit breaker that guards upstream fetches.

When the application origin is unreachable, every intercepted request would
otherwise wait on its own failing connection before falling back to the
cache. The breaker trips after repeated transport failures so subsequent
requests fail fast and are served offline immediately.

# Usage

	breaker := resilience.New("origin", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	resp, err := resilience.Run(breaker, func() (*resty.Response, error) {
		return req.Execute(method, url)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open
*/
package resilience
