// Package group implements the synthetic Group Runnable: a node in the
// dependency graph whose only job is to fan out to every Runnable that
// shares its repeat interval, so the scheduler has one thing to tick per
// interval instead of one per leaf query.
package group

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/cuemby/probekit/pkg/runnable"
	"github.com/rs/zerolog"
)

// Group batches every member Runnable that shares one repeat interval.
// Starting a Group starts every member concurrently and waits for all of
// them to settle; a member's failure doesn't stop its siblings.
type Group struct {
	*runnable.Base

	mu      sync.Mutex
	members []runnable.Runnable
}

// New creates an empty Group for the given repeat interval. Members are
// added with Add before the Group is ever started; AddDependency on the
// embedded Base is reserved for the scheduler's own bookkeeping, not for
// group membership, which is why Group keeps its own members slice
// instead of overloading Base's dependency list.
func New(name string, repeat time.Duration, clk clock.Clock, logger zerolog.Logger) *Group {
	g := &Group{}
	g.Base = runnable.NewBase(name, repeat, 0, g, clk, logger)
	g.Base.SetCategory("Group")
	return g
}

// Add registers a member of this Group. Not safe to call concurrently
// with Start.
func (g *Group) Add(r runnable.Runnable) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.Repeat() != g.Repeat() {
		return fmt.Errorf("group %s: member repeat %s does not match group repeat %s", g.Base.Name(), r.Repeat(), g.Repeat())
	}
	g.members = append(g.members, r)
	return nil
}

// Members returns a snapshot of the current membership.
func (g *Group) Members() []runnable.Runnable {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]runnable.Runnable, len(g.members))
	copy(out, g.members)
	return out
}

// Run implements runnable.Body: it starts every member concurrently and
// reports how many succeeded and how many failed. The Group itself never
// fails -- a bad member is visible in that member's own Result, not in
// the Group's.
func (g *Group) Run(ctx context.Context) runnable.Result {
	members := g.Members()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, failed := 0, 0

	wg.Add(len(members))
	for _, m := range members {
		go func(m runnable.Runnable) {
			defer wg.Done()
			res, err := m.Start(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || !res.OK() {
				failed++
			} else {
				succeeded++
			}
		}(m)
	}
	wg.Wait()

	return runnable.Result{Value: fmt.Sprintf("%d ok, %d failed", succeeded, failed)}
}
