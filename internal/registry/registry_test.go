package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/events"
	"AgentHub/internal/worker"
)

func noop(context.Context, worker.Task, worker.ExecContext) worker.Result {
	return worker.OK(nil)
}

// refusingWorker 激活时返回普通失败结果。
type refusingWorker struct {
	*worker.Agent
}

func (refusingWorker) Activate(context.Context) worker.Result {
	return worker.Fail(xerrors.CodeWorkerUnavailable, "backend offline")
}

type panickyWorker struct {
	*worker.Agent
}

func (panickyWorker) Activate(context.Context) worker.Result {
	panic("boom")
}

func TestRegisterRejectsInvalidWorkers(t *testing.T) {
	r := New()
	var typedNil *worker.Agent

	cases := []worker.Worker{
		nil,
		typedNil,
		worker.NewAgent("", "name", "kind", noop),
		worker.NewAgent("id", " ", "kind", noop),
		worker.NewAgent("id", "name", "kind", nil),
	}
	for i, w := range cases {
		res := r.Register(context.Background(), w)
		if res.Success || res.Code != xerrors.CodeInvalidWorker {
			t.Fatalf("case %d: expected INVALID_WORKER, got %+v", i, res)
		}
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegisterIsIdempotentByID(t *testing.T) {
	r := New()
	first := worker.NewAgent("a1", "alpha", "analysis", noop)
	second := worker.NewAgent("a1", "alpha-v2", "analysis", noop)

	require.True(t, r.Register(context.Background(), first).Success)
	require.True(t, r.Register(context.Background(), second).Success)

	assert.Equal(t, 1, r.Len())
	assert.Len(t, r.List(), 1)

	got, ok := r.FindByIdentity("alpha-v2")
	require.True(t, ok)
	assert.Same(t, second, got)

	_, ok = r.FindByIdentity("alpha")
	assert.False(t, ok, "stale name index must be removed")
}

func TestRegisterReplacementDeactivatesPrevious(t *testing.T) {
	r := New()
	var stopped atomic.Int32
	first := worker.NewAgent("a1", "alpha", "analysis", noop, worker.WithDeactivate(func(context.Context) error {
		stopped.Add(1)
		return nil
	}))
	second := worker.NewAgent("a1", "alpha", "analysis", noop)

	require.True(t, r.Register(context.Background(), first).Success)
	require.True(t, r.Register(context.Background(), first).Success)
	assert.Equal(t, int32(0), stopped.Load(), "same instance must stay active")

	require.True(t, r.Register(context.Background(), second).Success)
	assert.Equal(t, int32(1), stopped.Load())
	assert.Equal(t, worker.StatusInactive, first.Describe().Status)
	assert.True(t, r.IsActive("a1"))
}

func TestFindByIdentityPrefersID(t *testing.T) {
	r := New()
	byName := worker.NewAgent("x", "shared", "k", noop)
	byID := worker.NewAgent("shared", "other", "k", noop)
	r.Register(context.Background(), byName)
	r.Register(context.Background(), byID)

	got, ok := r.FindByIdentity("shared")
	require.True(t, ok)
	assert.Same(t, byID, got)
}

func TestFailedActivationIsNeverFoundByType(t *testing.T) {
	r := New()
	a := refusingWorker{worker.NewAgent("a", "A", "analysis", noop)}

	res := r.Register(context.Background(), a)
	assert.False(t, res.Success)
	assert.Equal(t, 1, r.Len())

	_, ok := r.FindByType("analysis")
	assert.False(t, ok)
	status, _ := r.StatusOf("A")
	assert.Equal(t, worker.StatusInactive, status)
}

func TestActivationPanicMarksError(t *testing.T) {
	r := New()
	res := r.Register(context.Background(), panickyWorker{worker.NewAgent("p", "P", "k", noop)})
	assert.False(t, res.Success)

	status, ok := r.StatusOf("p")
	require.True(t, ok)
	assert.Equal(t, worker.StatusError, status)

	again := r.Reactivate(context.Background(), "p")
	assert.False(t, again.Success, "error state has no automatic exit")
}

func TestFindByTypeUsesRegistrationOrder(t *testing.T) {
	r := New()
	one := worker.NewAgent("1", "one", "content", noop)
	two := worker.NewAgent("2", "two", "content", noop)
	r.Register(context.Background(), one)
	r.Register(context.Background(), two)

	got, ok := r.FindByType("content")
	require.True(t, ok)
	assert.Same(t, one, got)

	first, ok := r.FirstActive()
	require.True(t, ok)
	assert.Same(t, one, first)
	assert.Equal(t, []string{"content"}, r.Types())
}

func TestHealthSweepDemotesOncePerCycle(t *testing.T) {
	r := New()
	var healthy atomic.Bool
	healthy.Store(true)
	var checks atomic.Int32
	sick := worker.NewAgent("s", "sick", "review", noop, worker.WithHealthCheck(func(context.Context) worker.Health {
		checks.Add(1)
		return worker.Health{Healthy: healthy.Load(), Detail: "probe"}
	}))
	fine := worker.NewAgent("f", "fine", "review", noop)
	crashing := worker.NewAgent("c", "crash", "other", noop, worker.WithHealthCheck(func(context.Context) worker.Health {
		panic("probe exploded")
	}))
	for _, w := range []worker.Worker{crashing, sick, fine} {
		r.Register(context.Background(), w)
	}

	got, _ := r.FindByType("review")
	assert.Same(t, sick, got)

	healthy.Store(false)
	report := r.HealthSweep(context.Background())
	assert.Equal(t, 3, report.Checked)
	assert.ElementsMatch(t, []string{"crash", "sick"}, report.Demoted)
	assert.Equal(t, []string{"crash"}, report.Failures)

	again := r.HealthSweep(context.Background())
	assert.Empty(t, again.Demoted, "already inactive workers are not demoted again")

	got, ok := r.FindByType("review")
	require.True(t, ok)
	assert.Same(t, fine, got)

	healthy.Store(true)
	require.True(t, r.Reactivate(context.Background(), "sick").Success)
	got, _ = r.FindByType("review")
	assert.Same(t, sick, got)
}

func TestHealthSweepRunsOnSchedule(t *testing.T) {
	r := New(WithHealthInterval(time.Second))
	var checks atomic.Int32
	w := worker.NewAgent("s", "sick", "k", noop, worker.WithHealthCheck(func(context.Context) worker.Health {
		checks.Add(1)
		return worker.Health{Healthy: false}
	}))
	r.Register(context.Background(), w)

	r.Start(context.Background())
	defer r.Stop()
	require.Eventually(t, func() bool { return checks.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool { return !r.IsActive("s") }, time.Second, 20*time.Millisecond)
}

func TestRestartSchedulesSweepOnce(t *testing.T) {
	r := New(WithHealthInterval(time.Hour))
	r.Start(context.Background())
	r.Stop()
	r.Start(context.Background())
	defer r.Stop()

	r.mu.Lock()
	entries := r.cron.Entries()
	r.mu.Unlock()
	assert.Len(t, entries, 1)
}

func TestShutdownIsBestEffort(t *testing.T) {
	r := New()
	var stopped atomic.Int32
	bad := worker.NewAgent("b", "bad", "k", noop, worker.WithDeactivate(func(context.Context) error {
		return errors.New("stuck")
	}))
	good := worker.NewAgent("g", "good", "k", noop, worker.WithDeactivate(func(context.Context) error {
		stopped.Add(1)
		return nil
	}))
	r.Register(context.Background(), bad)
	r.Register(context.Background(), good)

	err := r.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, int32(1), stopped.Load())
	assert.Equal(t, 0, r.Len())
}

func TestRegistryCountsDispatchEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	r := New(WithBus(bus))
	r.Register(context.Background(), worker.NewAgent("a", "A", "k", noop))

	ctx := context.Background()
	bus.Publish(ctx, events.Event{Type: events.TypeTaskCompleted})
	bus.Publish(ctx, events.Event{Type: events.TypeTaskFailed})
	bus.Publish(ctx, events.Event{Type: events.TypeTaskTimeout})

	m := r.Metrics()
	assert.Equal(t, uint64(1), m.Completed)
	assert.Equal(t, uint64(2), m.Failed)
	assert.Equal(t, uint64(1), m.Timeouts)
	assert.Equal(t, 1, m.Registered)
	assert.Equal(t, 1, m.Active)
}
