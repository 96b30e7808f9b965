package graph

import (
	"github.com/dshills/stategraph/graph/emit"
	"github.com/dshills/stategraph/graph/store"
)

// DefaultMaxSteps bounds a run when no limit is configured.
const DefaultMaxSteps = 25

// Option configures a CompiledGraph. Options are applied by Compile and may
// reject invalid values.
//
// Example:
//
//	g, err := b.Compile(
//	    graph.WithStore(store.NewMemStore()),
//	    graph.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	    graph.WithMaxSteps(50),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are frozen into a CompiledGraph.
type engineConfig struct {
	maxSteps       int
	maxConcurrent  int
	store          store.Store
	emitter        emit.Emitter
	metrics        *PrometheusMetrics
	conflictPolicy ConflictPolicy
}

func defaultConfig() engineConfig {
	return engineConfig{
		maxSteps: DefaultMaxSteps,
		emitter:  emit.NewNullEmitter(),
	}
}

// WithMaxSteps limits the number of steps a run may take. Cyclic graphs such
// as tool loops rely on it as a backstop.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return &EngineError{Message: "MaxSteps must be at least 1", Code: "CONFIG_ERROR"}
		}
		cfg.maxSteps = n
		return nil
	}
}

// WithMaxConcurrent caps how many fan-out branches run at once.
// Zero, the default, runs every branch of a step concurrently.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "MaxConcurrent must be >= 0", Code: "CONFIG_ERROR"}
		}
		cfg.maxConcurrent = n
		return nil
	}
}

// WithStore enables checkpointing for invocations that pass WithSession.
func WithStore(st store.Store) Option {
	return func(cfg *engineConfig) error {
		cfg.store = st
		return nil
	}
}

// WithEmitter sets the destination for execution events.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// ConflictPolicy decides what happens when concurrent branches write the
// same replace-policy field in one step.
type ConflictPolicy int

const (
	// ConflictFail aborts the run with a ConflictError. Default.
	ConflictFail ConflictPolicy = iota

	// ConflictLastWriter applies branch updates in edge declaration order,
	// so the branch declared last wins. Each conflict is still emitted and
	// counted.
	ConflictLastWriter
)

func (p ConflictPolicy) String() string {
	if p == ConflictLastWriter {
		return "last_writer"
	}
	return "fail"
}

// WithConflictPolicy sets the fan-out conflict policy.
func WithConflictPolicy(policy ConflictPolicy) Option {
	return func(cfg *engineConfig) error {
		if policy != ConflictFail && policy != ConflictLastWriter {
			return &EngineError{Message: "unknown conflict policy", Code: "CONFIG_ERROR"}
		}
		cfg.conflictPolicy = policy
		return nil
	}
}

// InvokeOption configures a single Invoke call.
type InvokeOption func(*invokeConfig)

type invokeConfig struct {
	sessionID string
	runID     string
	maxSteps  int
}

// WithSession loads and saves the run's state under sessionID in the
// configured store.
func WithSession(sessionID string) InvokeOption {
	return func(c *invokeConfig) {
		c.sessionID = sessionID
	}
}

// WithRunID sets the identifier attached to emitted events. A random UUID
// is used otherwise.
func WithRunID(runID string) InvokeOption {
	return func(c *invokeConfig) {
		c.runID = runID
	}
}

// WithRecursionLimit overrides the graph's step limit for one call.
func WithRecursionLimit(n int) InvokeOption {
	return func(c *invokeConfig) {
		c.maxSteps = n
	}
}
