package engine

import "time"

// Option is a functional option for configuring an Engine, applied in
// addition to (or instead of) an Options struct passed to New.
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	opts Options
}

// WithMaxSteps limits workflow execution to prevent infinite loops. When
// exceeded, Run returns an EngineError with code MAX_STEPS_EXCEEDED.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the execution timeout applied to nodes that
// don't declare their own NodePolicy.Timeout.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithRunWallClockBudget bounds the total execution time of one Run call.
// Zero disables the budget; the run then ends only via MaxSteps or a
// terminal node.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.RunWallClockBudget = d
		return nil
	}
}

// WithMetrics attaches a PrometheusMetrics collector: every node execution
// records step_latency_ms, and every retry increments retries_total.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}
