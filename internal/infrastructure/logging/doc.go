// Package logging provides structured logging using uber/zap.
//
// Production builds emit JSON; development builds emit colored console
// output. Components take a *Logger and derive a named child with
// Component, so every line carries the subsystem that wrote it:
//
//	logger := logging.NewDefault().Component("agent")
//	logger.Warn("asset not cached", zap.String("path", p), zap.Error(err))
//
// Failures inside the caching agent are recoverable by design and are only
// ever reported through this package.
package logging
