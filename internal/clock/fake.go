package clock

import (
	"container/heap"
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic scheduler tests.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers timerHeap
	seq    int
}

// NewFake creates a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, cb func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{at: f.now.Add(d), cb: cb, seq: f.seq, clock: f}
	heap.Push(&f.timers, t)
	return t
}

// Advance moves the clock forward by d, firing any timers whose deadline
// has been reached, in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.now = target
	var due []*fakeTimer
	for f.timers.Len() > 0 && !f.timers[0].at.After(target) {
		t := heap.Pop(&f.timers).(*fakeTimer)
		if !t.cancelled {
			t.fired = true
			due = append(due, t)
		}
	}
	f.mu.Unlock()

	for _, t := range due {
		t.cb()
	}
}

type fakeTimer struct {
	at        time.Time
	cb        func()
	seq       int
	cancelled bool
	fired     bool
	clock     *Fake
	index     int
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.cancelled || t.fired {
		return false
	}
	t.cancelled = true
	return true
}

type timerHeap []*fakeTimer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	t := x.(*fakeTimer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
