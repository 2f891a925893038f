/*
Package network fetches upstream responses for the caching agent.

The Fetcher interface is what the interceptor and the version manager
depend on. HTTPFetcher is the production implementation: a resty client
over a retrying transport, guarded by a circuit breaker and an optional
rate limiter. Every transport failure is reported wrapped in ErrNetwork;
HTTP error statuses are responses, not errors.

Responses are labelled the way a browser would label them:

	same origin                → basic
	cross origin, no-cors mode → opaque (status 0, no headers, no body)
	cross origin, other modes  → cors
*/
package network
