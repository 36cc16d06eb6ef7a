package router

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/worker"
	"AgentHub/pkg/logger"
)

// Directory 是路由所需的注册表查询能力。
type Directory interface {
	FindByIdentity(idOrName string) (worker.Worker, bool)
	FindByType(kind string) (worker.Worker, bool)
	FirstActive() (worker.Worker, bool)
	IsActive(id string) bool
	Types() []string
}

// Kind 区分路由结果种类。
type Kind string

const (
	KindWorker       Kind = "worker"
	KindCoordination Kind = "coordination"
)

// Reason 说明决策来自哪个阶段。
type Reason string

const (
	ReasonOverride     Reason = "override"
	ReasonCoordination Reason = "coordination_rule"
	ReasonKeyword      Reason = "keyword_rule"
	ReasonFallback     Reason = "first_active"
)

// Decision 是一次路由决策。
type Decision struct {
	Kind    Kind
	Reason  Reason
	Worker  worker.Worker
	Rule    *Rule
	Matches int
}

// Category 返回命中规则的类别，没有规则时为空。
func (d Decision) Category() string {
	if d.Rule == nil {
		return ""
	}
	return d.Rule.Category
}

// Router 依据关键词规则选择 worker 或协作流水线。
type Router struct {
	directory   Directory
	rules       []Rule
	autoRouting bool
	logger      *slog.Logger
}

// Option 定义路由器的可选配置。
type Option func(*Router)

// WithRules 替换默认规则，关键词统一转为小写。
func WithRules(rules []Rule) Option {
	return func(r *Router) {
		r.rules = make([]Rule, 0, len(rules))
		for _, rule := range rules {
			r.rules = append(r.rules, rule.lowered())
		}
	}
}

// WithAutoRouting 开启或关闭关键词自动路由。
func WithAutoRouting(enabled bool) Option {
	return func(r *Router) {
		r.autoRouting = enabled
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// New 创建路由器。
func New(directory Directory, opts ...Option) *Router {
	r := &Router{
		directory:   directory,
		rules:       DefaultRules(),
		autoRouting: true,
		logger:      logger.Named("router"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Rules 返回规则副本。
func (r *Router) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Route 计算命令的路由决策。target 非空时只做显式解析，不会回退到自动路由。
func (r *Router) Route(command, target string) (Decision, error) {
	if target = strings.TrimSpace(target); target != "" {
		return r.resolveOverride(target)
	}
	if !r.autoRouting {
		return Decision{}, xerrors.New(xerrors.CodeAutoRoutingDisabled,
			fmt.Sprintf("自动路由已关闭，请显式指定 worker，可用类型: %s", strings.Join(r.directory.Types(), ", ")))
	}

	lowered := strings.ToLower(command)
	for i := range r.rules {
		rule := &r.rules[i]
		if !rule.Coordination() {
			continue
		}
		if n := rule.Matches(lowered); n > 0 {
			r.logger.Debug("命中协作规则", slog.String("category", rule.Category), slog.Int("matches", n))
			return Decision{Kind: KindCoordination, Reason: ReasonCoordination, Rule: rule, Matches: n}, nil
		}
	}

	if rule, n := r.bestIndividual(lowered); rule != nil {
		if w, ok := r.directory.FindByType(rule.Target); ok {
			return Decision{Kind: KindWorker, Reason: ReasonKeyword, Worker: w, Rule: rule, Matches: n}, nil
		}
		r.logger.Debug("规则目标没有激活的 worker，回退到首个激活 worker",
			slog.String("category", rule.Category),
			slog.String("target", rule.Target))
	}

	if w, ok := r.directory.FirstActive(); ok {
		return Decision{Kind: KindWorker, Reason: ReasonFallback, Worker: w}, nil
	}
	r.logger.Info("没有匹配的路由", slog.String("command", command))
	return Decision{}, xerrors.New(xerrors.CodeNoRouteFound, "")
}

func (r *Router) resolveOverride(target string) (Decision, error) {
	if w, ok := r.directory.FindByIdentity(target); ok && r.directory.IsActive(w.ID()) {
		return Decision{Kind: KindWorker, Reason: ReasonOverride, Worker: w}, nil
	}
	if w, ok := r.directory.FindByType(target); ok {
		return Decision{Kind: KindWorker, Reason: ReasonOverride, Worker: w}, nil
	}
	return Decision{}, xerrors.New(xerrors.CodeTargetNotFound, fmt.Sprintf("未找到可用的 worker: %s", target))
}

// bestIndividual 选出命中数最多的单体规则，命中数相同时优先级数值小者胜出。
func (r *Router) bestIndividual(lowered string) (*Rule, int) {
	var (
		best      *Rule
		bestCount int
	)
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.Coordination() {
			continue
		}
		n := rule.Matches(lowered)
		if n == 0 {
			continue
		}
		if best == nil || n > bestCount || (n == bestCount && rule.Priority < best.Priority) {
			best, bestCount = rule, n
		}
	}
	return best, bestCount
}

// MatchTypes 返回所有命中的单体规则目标，按命中数降序、优先级升序排列并去重。
func (r *Router) MatchTypes(command string) []string {
	lowered := strings.ToLower(command)
	type hit struct {
		rule  *Rule
		count int
	}
	var hits []hit
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.Coordination() {
			continue
		}
		if n := rule.Matches(lowered); n > 0 {
			hits = append(hits, hit{rule: rule, count: n})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].count != hits[j].count {
			return hits[i].count > hits[j].count
		}
		return hits[i].rule.Priority < hits[j].rule.Priority
	})
	seen := make(map[string]struct{}, len(hits))
	types := make([]string, 0, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.rule.Target]; ok {
			continue
		}
		seen[h.rule.Target] = struct{}{}
		types = append(types, h.rule.Target)
	}
	return types
}
