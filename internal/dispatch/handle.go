package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/worker"
)

// ErrDeadline 表示在结果到达之前等待时间已经耗尽。
var ErrDeadline = xerrors.New(xerrors.CodeTaskTimeout, "task deadline exceeded")

// Handle 表示一个已经启动的异步执行，可轮询或限时等待其结果。
// 超时只会放弃等待，不保证底层工作停止。
type Handle struct {
	done    chan struct{}
	cancel  context.CancelFunc
	started time.Time

	once   sync.Once
	result worker.Result
}

// Go 在独立协程中执行 fn 并返回其 Handle。fn 中的 panic 会被转换为失败结果。
func Go(ctx context.Context, fn func(ctx context.Context) worker.Result) *Handle {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		done:    make(chan struct{}),
		cancel:  cancel,
		started: time.Now(),
	}
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				h.finish(worker.Fail(xerrors.CodeExecutorFailure, fmt.Sprintf("handler panic: %v", r)))
			}
		}()
		h.finish(fn(runCtx))
	}()
	return h
}

func (h *Handle) finish(result worker.Result) {
	h.once.Do(func() {
		h.result = result
		close(h.done)
	})
}

// Done 在执行结束时关闭。
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result 非阻塞地读取结果，第二个返回值表示是否已经完成。
func (h *Handle) Result() (worker.Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return worker.Result{}, false
	}
}

// Started 返回执行开始的时间。
func (h *Handle) Started() time.Time {
	return h.started
}

// Await 等待结果，最多等待 timeout（<= 0 表示不限时）。超时返回 ErrDeadline，
// 调用方 ctx 结束时返回 ctx.Err()。两种情况下执行都会继续，直到 Abandon 或自行结束。
func (h *Handle) Await(ctx context.Context, timeout time.Duration) (worker.Result, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-h.done:
		return h.result, nil
	case <-deadline:
		return worker.Result{}, ErrDeadline
	case <-ctx.Done():
		return worker.Result{}, ctx.Err()
	}
}

// Abandon 取消传给处理函数的 ctx。只是一种通知，处理函数可以忽略它。
func (h *Handle) Abandon() {
	h.cancel()
}
