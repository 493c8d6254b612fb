package notesync

import "log/slog"

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithUserID sets the actor identifier stamped on outbound messages.
// Defaults to a random UUID per engine.
func WithUserID(id string) EngineOption {
	return func(e *Engine) { e.userID = id }
}

// WithMetricsCollector sets the metrics sink. Defaults to a no-op.
func WithMetricsCollector(mc MetricsCollector) EngineOption {
	return func(e *Engine) { e.metrics = mc }
}

// WithRegistry supplies a shared notification registry.
func WithRegistry(r *Registry) EngineOption {
	return func(e *Engine) { e.registry = r }
}
