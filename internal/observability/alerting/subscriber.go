package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/events"
	"AgentHub/pkg/logger"
)

// DefaultCooldown 是同一 worker 同一错误码两次告警之间的最短间隔。
const DefaultCooldown = time.Minute

// Subscriber 将总线上的失败事件转换为告警，按错误码属性过滤并抑制重复告警。
type Subscriber struct {
	dispatcher Dispatcher
	cooldown   time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// NewSubscriber 创建告警订阅者，cooldown 不大于 0 时使用 DefaultCooldown。
func NewSubscriber(dispatcher Dispatcher, cooldown time.Duration) *Subscriber {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Subscriber{
		dispatcher: dispatcher,
		cooldown:   cooldown,
		now:        time.Now,
		logger:     logger.Named("alerting"),
		last:       make(map[string]time.Time),
	}
}

// Attach 订阅任务失败、超时与 worker 降级事件，返回取消订阅函数。
func (s *Subscriber) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(events.TypeTaskFailed, s.Handle),
		bus.Subscribe(events.TypeTaskTimeout, s.Handle),
		bus.Subscribe(events.TypeWorkerDemoted, s.Handle),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Handle 处理单个总线事件。
func (s *Subscriber) Handle(ctx context.Context, event events.Event) {
	alert, ok := s.convert(event)
	if !ok || !s.allow(alert) {
		return
	}
	if err := s.dispatcher.Notify(ctx, alert); err != nil {
		s.logger.Warn("发送告警失败", slog.String("code", string(alert.Code)), slog.Any("error", err))
	}
}

func (s *Subscriber) convert(event events.Event) (Event, bool) {
	code := event.Code
	switch event.Type {
	case events.TypeTaskTimeout:
		if code == "" {
			code = xerrors.CodeTaskTimeout
		}
	case events.TypeWorkerDemoted:
		code = xerrors.CodeWorkerUnavailable
	case events.TypeTaskFailed:
		if code == "" {
			code = xerrors.CodeExecutorFailure
		}
	default:
		return Event{}, false
	}
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return Event{}, false
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	return Event{
		Code:       code,
		Message:    event.Message,
		Severity:   attrs.Severity,
		Source:     string(event.Type),
		TaskID:     event.TaskID,
		WorkerName: event.WorkerName,
		SessionID:  event.SessionID,
		OccurredAt: occurred,
	}, true
}

func (s *Subscriber) allow(alert Event) bool {
	key := alert.WorkerName + "|" + string(alert.Code)
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.last[key]; ok && now.Sub(last) < s.cooldown {
		return false
	}
	s.last[key] = now
	return true
}
