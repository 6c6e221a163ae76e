// Package scheduler drives the group tick loop: one group.Group per
// distinct repeat interval, staggered so groups don't all fire on the
// same instant, each tick arming the group's next one before it runs so
// that a tick coming due while the previous one is in flight is skipped.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/cuemby/probekit/pkg/events"
	"github.com/cuemby/probekit/pkg/group"
	"github.com/cuemby/probekit/pkg/metrics"
	"github.com/cuemby/probekit/pkg/runnable"
	"github.com/rs/zerolog"
)

const latencyRingSize = 64

// Scheduler owns one group.Group per distinct repeat interval and drives
// their ticks against the clock it was built with.
type Scheduler struct {
	clk    clock.Clock
	logger zerolog.Logger
	events *events.Cache

	mu          sync.Mutex
	prepared    bool
	groups      map[time.Duration]*group.Group
	timers      map[time.Duration]clock.Timer
	latency     map[time.Duration]*latencyRing
	skipped     map[time.Duration]uint64
	lastTick    map[time.Duration]time.Time
	scheduledAt map[time.Duration]time.Time
}

// New creates a Scheduler driven by clk. Pass clock.Real{} in production
// and a clock.Fake in tests so tick timing is deterministic. cache may be
// nil; when set, skipped ticks are recorded there for monitorapi to
// render.
func New(clk clock.Clock, logger zerolog.Logger, cache *events.Cache) *Scheduler {
	return &Scheduler{
		clk:         clk,
		logger:      logger.With().Str("component", "scheduler").Logger(),
		events:      cache,
		groups:      map[time.Duration]*group.Group{},
		timers:      map[time.Duration]clock.Timer{},
		latency:     map[time.Duration]*latencyRing{},
		skipped:     map[time.Duration]uint64{},
		lastTick:    map[time.Duration]time.Time{},
		scheduledAt: map[time.Duration]time.Time{},
	}
}

// Register adds r to the group matching its repeat interval, creating
// that group on first use. Must be called before Prepare.
func (s *Scheduler) Register(r runnable.Runnable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepared {
		return fmt.Errorf("scheduler: cannot register after Prepare")
	}

	interval := r.Repeat()
	g, ok := s.groups[interval]
	if !ok {
		g = group.New(fmt.Sprintf("group-%s", interval), interval, s.clk, s.logger)
		s.groups[interval] = g
		s.latency[interval] = newLatencyRing(latencyRingSize)
	}
	return g.Add(r)
}

// Prepare computes stagger offsets across every distinct interval and
// arms the first tick for each group. offset_i = repeat_i * i / n over
// the n distinct intervals sorted ascending, so groups spread across
// their own period instead of bunching at t=0.
func (s *Scheduler) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepared {
		return fmt.Errorf("scheduler: already prepared")
	}
	s.prepared = true

	intervals := make([]time.Duration, 0, len(s.groups))
	for interval := range s.groups {
		intervals = append(intervals, interval)
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })

	n := len(intervals)
	metrics.GroupsTotal.Set(float64(n))

	for i, interval := range intervals {
		g := s.groups[interval]
		offset := time.Duration(int64(interval) * int64(i) / int64(n))
		s.armLocked(ctx, g, offset)
	}
	return nil
}

// armLocked schedules g's next tick after delay and records when that
// tick is due, so the latency sample taken when it actually fires
// measures scheduling drift (t_actual_start - t_scheduled) rather than
// the tick's own execution time. Callers must hold s.mu.
func (s *Scheduler) armLocked(ctx context.Context, g *group.Group, delay time.Duration) {
	interval := g.Repeat()
	s.scheduledAt[interval] = s.clk.Now().Add(delay)
	s.timers[interval] = s.clk.AfterFunc(delay, func() {
		s.tick(ctx, g)
	})
}

// tick runs one group cycle. If the group's previous tick is still in
// flight, this tick is skipped and counted rather than joining it --
// unlike runnable.Base.Start's ordinary coalescing behavior, a skipped
// scheduler tick does not wait around for the in-flight one to finish.
func (s *Scheduler) tick(ctx context.Context, g *group.Group) {
	interval := g.Repeat()
	actualStart := s.clk.Now()

	if st := g.State(); st == runnable.StateRunning || st == runnable.StateWaitingForDeps {
		s.mu.Lock()
		s.skipped[interval]++
		s.mu.Unlock()
		metrics.TicksSkipped.WithLabelValues(g.Name()).Inc()
		if s.events != nil {
			s.events.Record(events.Event{
				Source:  g.Name(),
				Type:    events.GroupTickSkipped,
				Message: "previous tick still in flight",
			})
		}
		s.rearm(ctx, g, interval)
		return
	}

	metrics.TicksRun.WithLabelValues(g.Name()).Inc()

	s.mu.Lock()
	scheduled := s.scheduledAt[interval]
	s.mu.Unlock()
	latency := actualStart.Sub(scheduled)
	if latency < 0 {
		latency = 0
	}

	// Arm the next tick before running this one: if this tick is still in
	// flight when the next one comes due, that one takes the skip branch
	// above instead of waiting for this tick to settle.
	s.rearm(ctx, g, interval)

	tickCtx, cancel := context.WithTimeout(ctx, interval)
	_, err := g.Start(tickCtx)
	cancel()
	if err != nil {
		s.logger.Warn().Err(err).Str("group", g.Name()).Msg("group tick returned an error")
	}

	s.mu.Lock()
	s.latency[interval].add(latency)
	s.lastTick[interval] = s.clk.Now()
	s.mu.Unlock()
	metrics.TickLatency.WithLabelValues(g.Name()).Observe(latency.Seconds())
}

func (s *Scheduler) rearm(ctx context.Context, g *group.Group, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	s.armLocked(ctx, g, interval)
}

// Stop cancels every armed timer. Ticks already running are not
// interrupted; they finish and simply don't re-arm.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
}

// GroupStats is a per-interval snapshot rendered by monitorapi.
type GroupStats struct {
	Name     string
	Interval time.Duration
	Members  int
	Skipped  uint64
	LastTick time.Time
	Latency  latencySnapshot
}

// TaskCounts is the distilled spec's task-type census (§3 "Scheduler
// state", scenario D): how many of the registered population's
// transitive dependency closure are each kind of Runnable. A Runnable
// shared by several dependents (a deduplicated Query, most commonly)
// is counted once, matching the registry's single-instance guarantee.
type TaskCounts struct {
	Count    int
	Test     int
	Query    int
	Group    int
	Runnable int
}

// categorized is satisfied by any Runnable embedding *runnable.Base,
// which is all of them; it's declared locally instead of imported so
// this package doesn't need to know about Group/Test/Query's concrete
// types to classify their instances.
type categorized interface {
	Category() string
}

func tally(counts *TaskCounts, r runnable.Runnable) {
	counts.Count++
	cat := "Runnable"
	if c, ok := r.(categorized); ok {
		cat = c.Category()
	}
	switch cat {
	case "Test":
		counts.Test++
	case "Query":
		counts.Query++
	case "Group":
		counts.Group++
	default:
		counts.Runnable++
	}
}

// taskCensusLocked walks every group's membership and its transitive
// dependency closure, deduplicating shared Runnables (a Query reused
// by several Tests counts once), and tallies each by category. Callers
// must hold s.mu.
func (s *Scheduler) taskCensusLocked() TaskCounts {
	var counts TaskCounts
	seen := map[runnable.Runnable]bool{}

	var walk func(r runnable.Runnable)
	walk = func(r runnable.Runnable) {
		if r == nil || seen[r] {
			return
		}
		seen[r] = true
		tally(&counts, r)
		for _, d := range r.Dependencies() {
			walk(d)
		}
	}

	for _, g := range s.groups {
		counts.Count++
		counts.Group++
		for _, m := range g.Members() {
			walk(m)
		}
	}
	return counts
}

// Stats is the full scheduler snapshot: task census and latency history
// per group, same information the original's /stat/scheduler endpoint
// rendered.
type Stats struct {
	Groups []GroupStats
	Tasks  TaskCounts
}

// Stats returns a point-in-time snapshot safe to render concurrently with
// ticking.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	intervals := make([]time.Duration, 0, len(s.groups))
	for interval := range s.groups {
		intervals = append(intervals, interval)
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })

	out := Stats{Groups: make([]GroupStats, 0, len(intervals)), Tasks: s.taskCensusLocked()}
	for _, interval := range intervals {
		g := s.groups[interval]
		out.Groups = append(out.Groups, GroupStats{
			Name:     g.Name(),
			Interval: interval,
			Members:  len(g.Members()),
			Skipped:  s.skipped[interval],
			LastTick: s.lastTick[interval],
			Latency:  s.latency[interval].snapshot(),
		})
	}
	return out
}
