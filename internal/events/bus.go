package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"AgentHub/pkg/logger"
)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus 是进程内的事件总线。订阅者在发布者的协程中同步执行，
// 外部 Sink 在独立协程中发送，不会阻塞发布者。
type Bus struct {
	mu          sync.RWMutex
	typed       map[Type][]subscription
	all         []subscription
	sinks       []Sink
	nextID      atomic.Uint64
	closed      bool
	wg          sync.WaitGroup
	sendTimeout time.Duration
}

// NewBus 创建事件总线。
func NewBus() *Bus {
	return &Bus{
		typed:       make(map[Type][]subscription),
		sendTimeout: 5 * time.Second,
	}
}

// Publish 将事件投递给匹配的订阅者和全部 Sink。
func (b *Bus) Publish(ctx context.Context, event Event) {
	if b == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]subscription, 0, len(b.typed[event.Type])+len(b.all))
	handlers = append(handlers, b.typed[event.Type]...)
	handlers = append(handlers, b.all...)
	sinks := append([]Sink(nil), b.sinks...)
	// Add 与 closed 检查同在读锁内，Close 翻转 closed 后的 Wait 不会与之并发。
	b.wg.Add(len(sinks))
	b.mu.RUnlock()

	for _, sub := range handlers {
		b.invoke(ctx, sub, event)
	}
	for _, sink := range sinks {
		b.forward(sink, event)
	}
}

func (b *Bus) invoke(ctx context.Context, sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("事件处理器异常",
				slog.String("event", string(event.Type)),
				slog.Any("panic", r))
		}
	}()
	sub.handler(ctx, event)
}

// forward 异步发送事件，调用方已为其执行 wg.Add。
func (b *Bus) forward(sink Sink, event Event) {
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
		defer cancel()
		if err := sink.Send(ctx, event); err != nil {
			logger.L().Warn("事件转发失败",
				slog.String("event", string(event.Type)),
				slog.String("task_id", event.TaskID),
				slog.Any("error", err))
		}
	}()
}

// Subscribe 订阅指定类型的事件，返回取消订阅函数。
func (b *Bus) Subscribe(eventType Type, handler Handler) func() {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = removeSubscription(b.typed[eventType], id)
	}
}

// SubscribeAll 订阅所有事件，返回取消订阅函数。
func (b *Bus) SubscribeAll(handler Handler) func() {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.all = append(b.all, subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = removeSubscription(b.all, id)
	}
}

// Attach 挂载一个外部 Sink，关闭总线时一并关闭。
func (b *Bus) Attach(sink Sink) {
	if sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Close 停止接收事件，等待转发完成并关闭所有 Sink。可重复调用。
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sinks := b.sinks
	b.sinks = nil
	b.mu.Unlock()

	b.wg.Wait()

	var firstErr error
	for _, sink := range sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func removeSubscription(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}
