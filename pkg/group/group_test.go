package group

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/probekit/internal/clock"
	"github.com/cuemby/probekit/pkg/runnable"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMember struct {
	*runnable.Base
	result runnable.Result
}

func (m *fakeMember) Run(ctx context.Context) runnable.Result { return m.result }

func newMember(name string, repeat time.Duration, result runnable.Result) *fakeMember {
	m := &fakeMember{result: result}
	m.Base = runnable.NewBase(name, repeat, time.Second, m, clock.Real{}, zerolog.Nop())
	return m
}

func TestGroupAddRejectsMismatchedRepeat(t *testing.T) {
	g := New("group-30s", 30*time.Second, clock.Real{}, zerolog.Nop())
	wrong := newMember("m1", time.Minute, runnable.Result{Value: "ok"})

	err := g.Add(wrong)
	assert.Error(t, err)
	assert.Empty(t, g.Members())
}

func TestGroupRunStartsAllMembersConcurrently(t *testing.T) {
	g := New("group-30s", 30*time.Second, clock.Real{}, zerolog.Nop())

	ok1 := newMember("ok1", 30*time.Second, runnable.Result{Value: "ok"})
	ok2 := newMember("ok2", 30*time.Second, runnable.Result{Value: "ok"})
	bad := newMember("bad", 30*time.Second, runnable.Result{Err: &runnable.Failure{Kind: runnable.TestCritical}})

	require.NoError(t, g.Add(ok1))
	require.NoError(t, g.Add(ok2))
	require.NoError(t, g.Add(bad))

	res, err := g.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK(), "the group itself never fails even when a member does")
	assert.Equal(t, "2 ok, 1 failed", res.Value)

	assert.Equal(t, runnable.StateIdle, ok1.State())
	assert.Equal(t, runnable.StateIdle, bad.State())
}

func TestGroupMembersSnapshotIsIndependent(t *testing.T) {
	g := New("group-1m", time.Minute, clock.Real{}, zerolog.Nop())
	m := newMember("m", time.Minute, runnable.Result{Value: "ok"})
	require.NoError(t, g.Add(m))

	snapshot := g.Members()
	require.NoError(t, g.Add(newMember("m2", time.Minute, runnable.Result{Value: "ok"})))

	assert.Len(t, snapshot, 1, "earlier snapshot must not see later additions")
	assert.Len(t, g.Members(), 2)
}
