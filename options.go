package ordersight

import (
	"log/slog"
	"time"

	"github.com/ordersight/ordersight/internal/rules"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all knobs after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	rules    rules.Rules
	debounce time.Duration
	logger   *slog.Logger
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDebounce overrides the completion debounce window. Non-positive
// values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(o *resolvedOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithRules replaces the embedded detection and extraction rule
// tables, e.g. from LoadRules for a deployment-specific tool set.
func WithRules(r Rules) Option {
	return func(o *resolvedOptions) { o.rules = r }
}
