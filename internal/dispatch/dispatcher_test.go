package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/events"
	"AgentHub/internal/worker"
)

func sleepyWorker(id string, sleep time.Duration, success bool) *worker.Agent {
	return worker.NewAgent(id, id, "test", func(ctx context.Context, task worker.Task, _ worker.ExecContext) worker.Result {
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return worker.Fail(xerrors.CodeTimeout, "cancelled")
		}
		if !success {
			return worker.Fail(xerrors.CodeExecutorFailure, "failed on purpose")
		}
		return worker.OK("done " + task.Command)
	})
}

type capture struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capture) Publish(_ context.Context, e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capture) types() []events.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Type, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func TestExecuteNilWorker(t *testing.T) {
	d := New()
	res := d.Execute(context.Background(), nil, worker.NewTask("x", "cmd"), worker.ExecContext{})
	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeWorkerUnavailable, res.Code)
	assert.Equal(t, 0, d.InFlight())
	assert.Equal(t, uint64(0), d.Stats().Metrics.Tasks)
}

func TestExecuteSuccessReturnsResultVerbatim(t *testing.T) {
	pub := &capture{}
	d := New(WithPublisher(pub))
	w := sleepyWorker("w1", 0, true)
	res := d.Execute(context.Background(), w, worker.NewTask("x", "hola"), worker.ExecContext{})

	require.True(t, res.Success)
	assert.Equal(t, "done hola", res.Data)
	assert.Equal(t, []events.Type{events.TypeTaskCompleted}, pub.types())
	assert.Equal(t, uint64(1), d.Stats().Metrics.Successes)
	assert.Equal(t, uint64(1), w.Describe().Metrics.Successes)
}

func TestExecuteFailureIsCounted(t *testing.T) {
	pub := &capture{}
	d := New(WithPublisher(pub))
	res := d.Execute(context.Background(), sleepyWorker("w1", 0, false), worker.NewTask("x", "y"), worker.ExecContext{})

	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeExecutorFailure, res.Code)
	assert.Equal(t, uint64(1), d.Stats().Metrics.Failures)
	assert.Equal(t, []events.Type{events.TypeTaskFailed}, pub.types())
}

func TestExecutePanicBecomesFailure(t *testing.T) {
	d := New()
	w := worker.NewAgent("p", "p", "test", func(context.Context, worker.Task, worker.ExecContext) worker.Result {
		panic("kaboom")
	})
	res := d.Execute(context.Background(), w, worker.NewTask("x", "y"), worker.ExecContext{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "kaboom")
	assert.Equal(t, 0, d.InFlight())
}

func TestExecuteTimeout(t *testing.T) {
	pub := &capture{}
	d := New(WithTimeout(30*time.Millisecond), WithPublisher(pub))

	var finished atomic.Bool
	slow := worker.NewAgent("slow", "slow", "test", func(context.Context, worker.Task, worker.ExecContext) worker.Result {
		time.Sleep(150 * time.Millisecond)
		finished.Store(true)
		return worker.OK("late")
	})

	before := d.InFlight()
	start := time.Now()
	res := d.Execute(context.Background(), slow, worker.NewTask("x", "y"), worker.ExecContext{})
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeTaskTimeout, res.Code)
	assert.Less(t, elapsed, 120*time.Millisecond)
	assert.False(t, finished.Load(), "handler is abandoned, not awaited")
	assert.Equal(t, before, d.InFlight())
	assert.Equal(t, uint64(1), d.Stats().Timeouts)
	assert.Equal(t, []events.Type{events.TypeTaskTimeout}, pub.types())
}

func TestExecuteRejectsDuplicateInFlight(t *testing.T) {
	d := New(WithTimeout(time.Second))
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := worker.NewAgent("b", "b", "test", func(context.Context, worker.Task, worker.ExecContext) worker.Result {
		close(started)
		<-release
		return worker.OK(nil)
	})
	task := worker.NewTask("x", "y")

	done := make(chan worker.Result, 1)
	go func() { done <- d.Execute(context.Background(), blocking, task, worker.ExecContext{}) }()
	<-started

	require.Equal(t, 1, d.InFlight())
	records := d.InFlightTasks()
	require.Len(t, records, 1)
	assert.Equal(t, task.ID, records[0].TaskID)
	assert.Equal(t, "b", records[0].WorkerID)

	dup := d.Execute(context.Background(), blocking, task, worker.ExecContext{})
	assert.Equal(t, xerrors.CodeTaskConflict, dup.Code)

	close(release)
	assert.True(t, (<-done).Success)
	assert.Equal(t, 0, d.InFlight())
}

func TestHandleResultPolling(t *testing.T) {
	release := make(chan struct{})
	h := Go(context.Background(), func(context.Context) worker.Result {
		<-release
		return worker.OK(1)
	})
	_, ok := h.Result()
	assert.False(t, ok)

	_, err := h.Await(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrDeadline)

	close(release)
	res, err := h.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Data)
	_, ok = h.Result()
	assert.True(t, ok)
}

func TestHandleAwaitCallerCancelled(t *testing.T) {
	h := Go(context.Background(), func(ctx context.Context) worker.Result {
		<-ctx.Done()
		return worker.OK(nil)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Await(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	h.Abandon()
	<-h.Done()
}

// TestInFlightReturnsToZeroProperty 任意并发成功、失败、超时混合执行结束后，在途数量回到零且计数守恒。
func TestInFlightReturnsToZeroProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := New(WithTimeout(20 * time.Millisecond))
		n := rapid.IntRange(1, 12).Draw(t, "tasks")
		kinds := rapid.SliceOfN(rapid.IntRange(0, 2), n, n).Draw(t, "kinds")

		var wg sync.WaitGroup
		for i, kind := range kinds {
			var w *worker.Agent
			switch kind {
			case 0:
				w = sleepyWorker("ok", 0, true)
			case 1:
				w = sleepyWorker("fail", 0, false)
			default:
				w = sleepyWorker("slow", 200*time.Millisecond, true)
			}
			wg.Add(1)
			go func(i int, w *worker.Agent) {
				defer wg.Done()
				d.Execute(context.Background(), w, worker.NewTask("x", "y"), worker.ExecContext{})
			}(i, w)
		}
		wg.Wait()

		stats := d.Stats()
		if stats.InFlight != 0 {
			t.Fatalf("in-flight = %d after all tasks finished", stats.InFlight)
		}
		if stats.Metrics.Tasks != uint64(n) {
			t.Fatalf("tasks = %d, want %d", stats.Metrics.Tasks, n)
		}
	})
}
