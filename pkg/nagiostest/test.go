// Package nagiostest implements the leaf test Runnables: Test composes a
// query dependency with a filter chain to turn a raw payload into a
// pass/warn/fail state; MerlinTest adds peer-sharded execution on top.
//
// Named nagiostest rather than test so package test doesn't collide with
// Go's own testing vocabulary -- "Test" read next to _test.go files in
// package test would be confusing in import lists and test output alike.
package nagiostest

import (
	"context"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/cuemby/probekit/pkg/filters"
	"github.com/cuemby/probekit/pkg/runnable"
	"github.com/rs/zerolog"
)

// Test runs a filter chain over its primary query dependency's latest
// Result. A Test may also depend on additional Runnables -- other
// Queries or prior Tests whose completion this tick requires but whose
// value doesn't feed the filter chain directly, e.g. a shared Group
// member pulled in purely so the dependency graph reflects the real
// fan-in (distilled spec scenario D's T1 depending on both R1 and R2).
// Those extra dependencies are reachable via Extra for filters or
// future composition logic that needs them.
type Test struct {
	*runnable.Base
	query runnable.Runnable
	extra []runnable.Runnable
	chain filters.Chain
}

// New builds a Test wired to depend on query (and any extraDeps),
// running chain against query's Result every tick.
func New(name string, query runnable.Runnable, chain filters.Chain, timeout time.Duration, clk clock.Clock, logger zerolog.Logger, extraDeps ...runnable.Runnable) (*Test, error) {
	t := &Test{query: query, extra: append([]runnable.Runnable{}, extraDeps...), chain: chain}
	t.Base = runnable.NewBase(name, query.Repeat(), timeout, t, clk, logger)
	t.Base.SetCategory("Test")
	if err := t.Base.AddDependency(query); err != nil {
		return nil, err
	}
	for _, d := range extraDeps {
		if err := t.Base.AddDependency(d); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Extra returns the additional dependencies beyond the primary query,
// in the order they were registered.
func (t *Test) Extra() []runnable.Runnable {
	out := make([]runnable.Runnable, len(t.extra))
	copy(out, t.extra)
	return out
}

// Run implements runnable.Body. By the time it runs, Base.Start has
// already awaited every dependency (primary query and any extras), so
// query.Result() reflects this tick's fetch.
func (t *Test) Run(ctx context.Context) runnable.Result {
	return t.chain.Apply(ctx, t.query.Result())
}
