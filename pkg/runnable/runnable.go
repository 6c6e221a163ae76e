// Package runnable implements the dependency-graph execution engine shared
// by every scheduled unit of work in probekit: Queries, Groups, and Tests
// are all Runnables. A Runnable has a repeat interval, an optional timeout,
// a set of dependencies that must settle before its own body starts, and a
// result slot holding the last outcome.
//
// Re-entrant Start calls while a Runnable is already running coalesce onto
// the same in-flight execution rather than starting a second one, and a
// dependency's failure never stops its dependents from running -- the
// dependent simply observes the failure in the dependency's Result.
package runnable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a Runnable.
type State int32

const (
	StateIdle State = iota
	StateWaitingForDeps
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForDeps:
		return "waiting-for-deps"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// FailureKind enumerates the error contracts a Runnable result can carry.
// These are not Go error types -- they're state codes attached to a Result
// so that dependents (and the filter pipeline) can decide how to react.
type FailureKind int

const (
	ConfigError FailureKind = iota
	InitError
	TestCritical
	TestWarning
	TestUnknown
	TestAbort
)

func (k FailureKind) String() string {
	switch k {
	case ConfigError:
		return "CONFIG_ERROR"
	case InitError:
		return "INIT_ERROR"
	case TestCritical:
		return "CRITICAL"
	case TestWarning:
		return "WARNING"
	case TestUnknown:
		return "UNKNOWN"
	case TestAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Failure is a structured failure record: a state code, a short message,
// and whatever partial payload the body accumulated before failing.
type Failure struct {
	Kind    FailureKind
	Message string
	Partial string
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Result is the outcome of one tick of a Runnable: either a successful
// Value, or a Failure.
type Result struct {
	Value string
	Err   *Failure
}

// OK reports whether the result represents success.
func (r Result) OK() bool { return r.Err == nil }

// Config is the identity of a Runnable for reuse purposes. Two Runnables
// with byte-identical Fingerprints are the same object in the Query
// registry (see pkg/query).
type Config interface {
	Fingerprint() string
}

// Body is the subclass-supplied behavior of a Runnable. Run must respect
// ctx's deadline: once ctx is done, Run should return promptly with
// whatever partial result it has, wrapped as a Failure. Run must never
// block the calling goroutine indefinitely without observing ctx.
type Body interface {
	Run(ctx context.Context) Result
}

// Runnable is the public contract every scheduled unit of work satisfies.
type Runnable interface {
	// Start runs one tick: if idle, it first awaits every dependency's
	// Start, then the body, bounded by the timeout. If a tick is already
	// in flight -- waiting on dependencies or running its body -- it
	// returns the result of that in-flight execution instead of starting
	// a new one.
	Start(ctx context.Context) (Result, error)

	// AddDependency records an edge to another Runnable. Forbidden after
	// this Runnable has ever started.
	AddDependency(other Runnable) error

	Result() Result
	State() State
	Repeat() time.Duration
	Timeout() time.Duration
	Dependencies() []Runnable
}

// Base is the embeddable implementation of Runnable. Concrete Runnables
// (Query kinds, Group, Test) embed *Base and supply a Body.
type Base struct {
	name     string
	repeat   time.Duration
	timeout  time.Duration
	body     Body
	clock    clock.Clock
	logger   zerolog.Logger
	category string

	mu         sync.Mutex
	started    bool
	deps       []Runnable
	state      State
	result     Result
	lastRun    time.Time
	lastFinish time.Time
	inflight   chan struct{}
}

// Category returns the task-type tag used by the scheduler's census
// reporting (e.g. "Query", "Test", "Group"). Unset Runnables report
// "Runnable", the distilled spec's catch-all bucket for anything that
// isn't one of those three named kinds.
func (b *Base) Category() string {
	if b.category == "" {
		return "Runnable"
	}
	return b.category
}

// SetCategory tags this Runnable for census reporting. Conventionally
// called once, right after NewBase, by the concrete type that knows
// what it is (query constructors tag "Query", nagiostest tags "Test",
// group tags "Group"); left unset, a plain Runnable reports "Runnable".
func (b *Base) SetCategory(category string) *Base {
	b.category = category
	return b
}

// NewBase constructs a Base. name is used only for logging/diagnostics.
func NewBase(name string, repeat, timeout time.Duration, body Body, clk clock.Clock, logger zerolog.Logger) *Base {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Base{
		name:    name,
		repeat:  repeat,
		timeout: timeout,
		body:    body,
		clock:   clk,
		logger:  logger.With().Str("runnable", name).Logger(),
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Repeat() time.Duration  { return b.repeat }
func (b *Base) Timeout() time.Duration { return b.timeout }

func (b *Base) Dependencies() []Runnable {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Runnable, len(b.deps))
	copy(out, b.deps)
	return out
}

// AddDependency records a forward edge. Pre-start only.
func (b *Base) AddDependency(other Runnable) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("runnable %s: cannot add dependency after start", b.name)
	}
	b.deps = append(b.deps, other)
	return nil
}

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) Result() Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// LastRun and LastFinish expose timestamps for scheduler latency
// accounting.
func (b *Base) LastRun() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRun
}

func (b *Base) LastFinish() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFinish
}

// Start implements the one-tick algorithm described in the package doc.
func (b *Base) Start(ctx context.Context) (Result, error) {
	b.mu.Lock()
	b.started = true
	if b.state != StateIdle {
		ch := b.inflight
		b.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		return b.Result(), nil
	}

	deps := make([]Runnable, len(b.deps))
	copy(deps, b.deps)
	b.state = StateWaitingForDeps
	ch := make(chan struct{})
	b.inflight = ch
	b.mu.Unlock()

	// Fan out to dependencies concurrently; a dependency's failure does
	// not prevent this Runnable from running its own body.
	var wg sync.WaitGroup
	wg.Add(len(deps))
	for _, d := range deps {
		go func(d Runnable) {
			defer wg.Done()
			if _, err := d.Start(ctx); err != nil {
				b.logger.Debug().Err(err).Msg("dependency start returned an error")
			}
		}(d)
	}
	wg.Wait()

	b.mu.Lock()
	b.state = StateRunning
	b.lastRun = b.clock.Now()
	b.mu.Unlock()

	runCtx := ctx
	var cancel context.CancelFunc
	if b.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	res := b.body.Run(runCtx)

	b.mu.Lock()
	b.result = res
	b.lastFinish = b.clock.Now()
	b.state = StateIdle
	close(ch)
	b.inflight = nil
	b.mu.Unlock()

	return res, nil
}
