package isolate

import (
	"time"

	"github.com/GriffinCanCode/jsbox/internal/logging"
	"github.com/GriffinCanCode/jsbox/internal/metrics"
)

// MaxStringLen is the longest identifier, property name, or source text the
// guest engine is asked to represent. Longer inputs are rejected up front.
const MaxStringLen = 1<<31 - 1

// DefaultGlobalName is the guest global under which the host object is
// projected when Options.Name is empty.
const DefaultGlobalName = "host"

// DefaultAverageObjectSize is the per-wrapper heap-pressure charge used when
// Options.AverageObjectSize is zero.
const DefaultAverageObjectSize = 1024

// Options configures a new Context.
type Options struct {
	// Name is the guest global holding the host-object projection.
	Name string

	// HostObject has its exported methods and fields projected into the
	// guest as a read-only namespace. May be nil.
	HostObject interface{}

	// Variables are copied onto the projection as read-only guest values.
	Variables map[string]interface{}

	// Snapshot optionally seeds the guest environment from a blob produced
	// by CreateSnapshot.
	Snapshot []byte

	// TimeLimit and MemoryLimit are the context defaults applied to
	// executions that do not override them. Zero means unlimited.
	TimeLimit   time.Duration
	MemoryLimit int64

	// AverageObjectSize is the heap-pressure charge per host-object wrapper.
	AverageObjectSize int64

	// MaxCallStackDepth bounds guest recursion. Zero picks a default.
	MaxCallStackDepth int

	// PropagateHostExceptions rethrows host errors crossing back out of the
	// guest as the original error value instead of wrapping them.
	PropagateHostExceptions bool

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// ExecOptions govern a single execution.
type ExecOptions struct {
	// TimeLimit and MemoryLimit override the context defaults for this
	// execution only. Zero falls back to the context default.
	TimeLimit   time.Duration
	MemoryLimit int64

	// ForceArray converts guest objects to structural host containers
	// instead of live proxies.
	ForceArray bool

	// PropagateHostExceptions enables original-error passthrough for this
	// execution, in addition to the context-level option.
	PropagateHostExceptions bool
}

// NormaliseFunc resolves a requested module id against the id of the module
// doing the requesting.
type NormaliseFunc func(base, id string) (string, error)

// LoadFunc returns the source text of a module.
type LoadFunc func(id string) (string, error)
