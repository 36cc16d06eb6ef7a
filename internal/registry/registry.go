package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/events"
	"AgentHub/internal/worker"
	"AgentHub/pkg/logger"

	"github.com/robfig/cron/v3"
)

// DefaultHealthInterval 为默认健康巡检间隔。
const DefaultHealthInterval = 60 * time.Second

type record struct {
	worker       worker.Worker
	status       worker.Status
	seq          uint64
	registeredAt time.Time
	generation   uint64
}

// GlobalMetrics 汇总来自调度事件的全局计数。
type GlobalMetrics struct {
	Registered int    `json:"registered"`
	Active     int    `json:"active"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
	Timeouts   uint64 `json:"timeouts"`
}

// Registry 是 worker 注册表。
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*record
	byName map[string]*record
	seq    uint64

	interval time.Duration
	cron     *cron.Cron
	started  bool

	publisher   events.Publisher
	unsubscribe func()
	logger      *slog.Logger

	completed atomic.Uint64
	failed    atomic.Uint64
	timeouts  atomic.Uint64
}

// Option 定义注册表的可选配置。
type Option func(*Registry)

// WithHealthInterval 设置健康巡检间隔。
func WithHealthInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithBus 订阅调度事件以累计全局指标，并通过总线发布注册表事件。
func WithBus(bus *events.Bus) Option {
	return func(r *Registry) {
		if bus == nil {
			return
		}
		r.publisher = bus
		r.unsubscribe = bus.SubscribeAll(r.observe)
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New 创建注册表。
func New(opts ...Option) *Registry {
	r := &Registry{
		byID:      make(map[string]*record),
		byName:    make(map[string]*record),
		interval:  DefaultHealthInterval,
		publisher: events.Nop{},
		logger:    logger.Named("registry"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register 校验并注册 worker，随后调用其 Activate。
// 同一 ID 再次注册会原地更新记录。激活失败不会向调用方抛出。
func (r *Registry) Register(ctx context.Context, w worker.Worker) worker.Result {
	if err := validate(w); err != nil {
		r.logger.Warn("拒绝非法 worker 注册", slog.String("error", err.Error()))
		return worker.FromError(err)
	}

	id, name := strings.TrimSpace(w.ID()), strings.TrimSpace(w.Name())
	r.mu.Lock()
	var replaced worker.Worker
	rec, exists := r.byID[id]
	if exists {
		if old := strings.TrimSpace(rec.worker.Name()); old != name && r.byName[old] == rec {
			delete(r.byName, old)
		}
		if rec.worker != w {
			replaced = rec.worker
		}
		rec.worker = w
		rec.status = worker.StatusInitialized
		rec.generation++
	} else {
		r.seq++
		rec = &record{worker: w, status: worker.StatusInitialized, seq: r.seq, registeredAt: time.Now()}
		r.byID[id] = rec
	}
	if other, ok := r.byName[name]; ok && other != rec {
		r.logger.Warn("worker 名称已被占用，名称索引指向新记录",
			slog.String("name", name),
			slog.String("previous_id", other.worker.ID()))
	}
	r.byName[name] = rec
	generation := rec.generation
	r.mu.Unlock()

	if replaced != nil {
		if res := safeDeactivate(ctx, replaced); !res.Success {
			r.logger.Warn("停用被替换的 worker 失败",
				slog.String("worker_id", id),
				slog.String("error", res.Error))
		}
	}

	result, status := activate(ctx, w)

	r.mu.Lock()
	if r.byID[id] == rec && rec.generation == generation {
		rec.status = status
	}
	r.mu.Unlock()

	logger.Audit().Info("worker 注册",
		slog.String("worker_id", id),
		slog.String("worker", name),
		slog.String("type", w.Type()),
		slog.Bool("updated", exists),
		slog.String("status", string(status)))
	r.publisher.Publish(ctx, events.Event{
		Type:       events.TypeWorkerRegistered,
		WorkerID:   id,
		WorkerName: name,
		Message:    string(status),
		OccurredAt: time.Now(),
	})
	return result
}

func validate(w worker.Worker) (err error) {
	defer func() {
		if recover() != nil {
			err = xerrors.New(xerrors.CodeInvalidWorker, "worker 不可用")
		}
	}()
	if w == nil {
		return xerrors.New(xerrors.CodeInvalidWorker, "worker 不能为空")
	}
	if strings.TrimSpace(w.ID()) == "" || strings.TrimSpace(w.Name()) == "" {
		return xerrors.New(xerrors.CodeInvalidWorker, "worker 缺少 id 或 name")
	}
	if exe, ok := w.(worker.Executable); ok && !exe.Executable() {
		return xerrors.New(xerrors.CodeInvalidWorker, fmt.Sprintf("worker %s 未提供任务处理函数", w.Name()))
	}
	return nil
}

// activate 调用 worker 的 Activate，异常时状态记为 error。
func activate(ctx context.Context, w worker.Worker) (result worker.Result, status worker.Status) {
	defer func() {
		if rec := recover(); rec != nil {
			result = worker.Fail(xerrors.CodeInitializationFailure, fmt.Sprintf("activate panic: %v", rec))
			status = worker.StatusError
		}
	}()
	result = w.Activate(ctx)
	switch {
	case result.Success:
		return result, worker.StatusActive
	case result.Code == xerrors.CodeInitializationFailure:
		return result, worker.StatusError
	default:
		return result, worker.StatusInactive
	}
}

// FindByType 返回注册顺序中第一个处于激活态的指定类型 worker。
func (r *Registry) FindByType(kind string) (worker.Worker, bool) {
	kind = strings.TrimSpace(kind)
	for _, rec := range r.ordered() {
		if rec.status == worker.StatusActive && rec.worker.Type() == kind {
			return rec.worker, true
		}
	}
	return nil, false
}

// FindByIdentity 先按 ID 再按名称查找 worker，不考虑状态。
func (r *Registry) FindByIdentity(idOrName string) (worker.Worker, bool) {
	key := strings.TrimSpace(idOrName)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.byID[key]; ok {
		return rec.worker, true
	}
	if rec, ok := r.byName[key]; ok {
		return rec.worker, true
	}
	return nil, false
}

// IsActive 报告指定 worker 当前是否处于激活态。
func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	return ok && rec.status == worker.StatusActive
}

// StatusOf 返回注册表记录的 worker 状态。
func (r *Registry) StatusOf(idOrName string) (worker.Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.lookup(idOrName)
	if !ok {
		return "", false
	}
	return rec.status, true
}

// FirstActive 返回注册顺序中第一个激活的 worker。
func (r *Registry) FirstActive() (worker.Worker, bool) {
	for _, rec := range r.ordered() {
		if rec.status == worker.StatusActive {
			return rec.worker, true
		}
	}
	return nil, false
}

// Active 按注册顺序返回所有激活的 worker。
func (r *Registry) Active() []worker.Worker {
	var out []worker.Worker
	for _, rec := range r.ordered() {
		if rec.status == worker.StatusActive {
			out = append(out, rec.worker)
		}
	}
	return out
}

// Types 返回已注册的 worker 类型，去重且按注册顺序。
func (r *Registry) Types() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rec := range r.ordered() {
		kind := rec.worker.Type()
		if _, ok := seen[kind]; ok {
			continue
		}
		seen[kind] = struct{}{}
		out = append(out, kind)
	}
	return out
}

// List 按注册顺序返回 worker 描述，状态以注册表为准。
func (r *Registry) List() []worker.Descriptor {
	recs := r.ordered()
	out := make([]worker.Descriptor, 0, len(recs))
	for _, rec := range recs {
		desc := rec.worker.Describe()
		desc.Status = rec.status
		out = append(out, desc)
	}
	return out
}

// Len 返回已注册 worker 数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Metrics 返回全局指标。
func (r *Registry) Metrics() GlobalMetrics {
	m := GlobalMetrics{
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Timeouts:  r.timeouts.Load(),
	}
	for _, rec := range r.ordered() {
		m.Registered++
		if rec.status == worker.StatusActive {
			m.Active++
		}
	}
	return m
}

// Deactivate 停用指定 worker。
func (r *Registry) Deactivate(ctx context.Context, idOrName string) worker.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.lookup(idOrName)
	if !ok {
		return worker.Fail(xerrors.CodeTargetNotFound, fmt.Sprintf("未找到 worker %s", idOrName))
	}
	result := safeDeactivate(ctx, rec.worker)
	if rec.status != worker.StatusError {
		rec.status = worker.StatusInactive
	}
	return result
}

// Reactivate 将处于 inactive 的 worker 重新激活，error 状态不可恢复。
func (r *Registry) Reactivate(ctx context.Context, idOrName string) worker.Result {
	r.mu.RLock()
	rec, ok := r.lookup(idOrName)
	var (
		status     worker.Status
		w          worker.Worker
		generation uint64
	)
	if ok {
		status, w, generation = rec.status, rec.worker, rec.generation
	}
	r.mu.RUnlock()
	if !ok {
		return worker.Fail(xerrors.CodeTargetNotFound, fmt.Sprintf("未找到 worker %s", idOrName))
	}
	switch status {
	case worker.StatusActive:
		return worker.OK(nil).WithMessage("%s already active", w.Name())
	case worker.StatusInactive:
	default:
		return worker.Fail(xerrors.CodeWorkerUnavailable,
			fmt.Sprintf("worker %s 处于 %s 状态，无法重新激活", w.Name(), status))
	}

	result, next := activate(ctx, w)
	r.mu.Lock()
	if rec.status == worker.StatusInactive && rec.generation == generation {
		rec.status = next
	}
	r.mu.Unlock()
	logger.Audit().Info("worker 重新激活",
		slog.String("worker", w.Name()),
		slog.String("status", string(next)))
	return result
}

func (r *Registry) lookup(idOrName string) (*record, bool) {
	key := strings.TrimSpace(idOrName)
	if rec, ok := r.byID[key]; ok {
		return rec, true
	}
	rec, ok := r.byName[key]
	return rec, ok
}

// entry 是记录在锁内拍下的快照。
type entry struct {
	rec    *record
	worker worker.Worker
	status worker.Status
}

func (r *Registry) ordered() []entry {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.byID))
	for _, rec := range r.byID {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]entry, len(recs))
	for i, rec := range recs {
		out[i] = entry{rec: rec, worker: rec.worker, status: rec.status}
	}
	r.mu.RUnlock()
	return out
}

func (r *Registry) observe(_ context.Context, event events.Event) {
	switch event.Type {
	case events.TypeTaskCompleted:
		r.completed.Add(1)
	case events.TypeTaskFailed:
		r.failed.Add(1)
	case events.TypeTaskTimeout:
		r.failed.Add(1)
		r.timeouts.Add(1)
	}
}

func safeDeactivate(ctx context.Context, w worker.Worker) (result worker.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = worker.Fail(xerrors.CodeExecutorFailure, fmt.Sprintf("deactivate panic: %v", rec))
		}
	}()
	return w.Deactivate(ctx)
}

// Shutdown 停止巡检并尽力停用所有 worker，单个失败不会中断其余 worker。
func (r *Registry) Shutdown(ctx context.Context) error {
	r.Stop()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	recs := make([]*record, 0, len(r.byID))
	for _, rec := range r.byID {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })

	var errs []error
	for _, rec := range recs {
		if res := safeDeactivate(ctx, rec.worker); !res.Success {
			err := fmt.Errorf("deactivate %s: %w", rec.worker.Name(), res.Err())
			r.logger.Error("停用 worker 失败", slog.String("worker", rec.worker.Name()), slog.String("error", res.Error))
			errs = append(errs, err)
		}
	}
	r.byID = make(map[string]*record)
	r.byName = make(map[string]*record)
	return errors.Join(errs...)
}
