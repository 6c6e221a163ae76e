package nagiostest

import (
	"context"

	"github.com/cuemby/probekit/pkg/runnable"
)

// PeerShard describes this instance's position in a peer group for tests
// that should run on only one peer of a fleet. Sharding is by plain
// index modulo peer count, deliberately not a content hash: an operator
// renumbering peers to rebalance load is a supported, ordinary operation,
// not a cache-invalidating one.
type PeerShard struct {
	TestIndex int
	NumPeers  int
	PeerID    int
}

func (s PeerShard) shouldRun() bool {
	if s.NumPeers <= 0 {
		return true
	}
	return s.TestIndex%s.NumPeers == s.PeerID
}

// MerlinTest wraps a Test with peer-shard gating: on a peer where this
// test isn't assigned to run, Start short-circuits to an immediate
// success without starting the query dependency or its own filter chain.
type MerlinTest struct {
	*Test
	shard PeerShard
}

// NewMerlin wraps an already-built Test with peer-shard gating.
func NewMerlin(t *Test, shard PeerShard) *MerlinTest {
	return &MerlinTest{Test: t, shard: shard}
}

// Start shadows the promoted Test.Start (itself promoted from
// *runnable.Base): when this peer isn't responsible for the test, it
// returns success without touching the query dependency at all, so an
// unscheduled peer generates zero load against the target.
func (m *MerlinTest) Start(ctx context.Context) (runnable.Result, error) {
	if !m.shard.shouldRun() {
		return runnable.Result{Value: "skipped: not this peer's shard"}, nil
	}
	return m.Test.Start(ctx)
}
