// Package tracing provides lightweight request tracing.
//
// Every gateway request gets a span whose trace id is propagated through
// X-Trace-ID / X-Span-ID headers, both back to the client and onward to the
// application origin when the request reaches the network. Finished spans
// are written to the structured log by a background collector.
//
// Usage:
//
//	tracer := tracing.New(logger)
//	defer tracer.Close()
//	router.Use(tracing.HTTPMiddleware(tracer))
package tracing
