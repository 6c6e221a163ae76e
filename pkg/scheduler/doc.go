/*
Package scheduler drives the per-interval group tick loop that replaces a
single global polling loop with one independently-staggered cycle per
distinct repeat interval.

# Architecture

Every Runnable registers under its own repeat interval. Runnables sharing
an interval are batched into one group.Group, so the scheduler only has to
arm one timer per distinct interval, not one per leaf query:

	┌──────────────────────────────────────────────────────────┐
	│  Register(r)  for every Runnable                         │
	│    groups[r.Repeat()].Add(r)                              │
	└────────────────────┬───────────────────────────────────────┘
	                     │
	                     ▼
	┌──────────────────────────────────────────────────────────┐
	│  Prepare(ctx)                                              │
	│    sort distinct intervals ascending                      │
	│    offset_i = repeat_i * i / n                             │
	│    arm first tick at offset_i via internal/clock            │
	└────────────────────┬───────────────────────────────────────┘
	                     │
	                     ▼
	┌──────────────────────────────────────────────────────────┐
	│  tick(group)                                                │
	│    if group still running/waiting: skip, count, re-arm     │
	│    else: re-arm, Start(group), record latency               │
	└──────────────────────────────────────────────────────────┘

# Backpressure

A group's tick is driven by a one-shot timer, not a ticker: each tick
arms the next one before it starts the group. A tick that comes due
while the previous one is still in flight is skipped and counted rather
than queued, so a slow group misses cycles instead of piling up
overlapping runs.

# Stats

Stats() returns a snapshot per group: member count, skip count, last tick
time, and a bounded latency history (min/max/avg/p50/p95). monitorapi
renders this at /stat/scheduler.
*/
package scheduler
