// Package logging provides a minimal logging interface and adapters for the
// deliberation engine.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the orchestrator, executor and cache use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - BoardroomLogger with session/component context and domain helpers
//   - Optional capability interfaces (ModelCallLogger, ResearchLookupLogger,
//     DecisionLogger) that the engine feature-detects on the configured logger
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	orch := orchestrator.New(store, registry, func(o *orchestrator.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor
// lock-in while supporting structured logging where available.
package logging
