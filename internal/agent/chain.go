package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/web3"
	"AgentHub/internal/worker"
)

var addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// actionKeywords 将命令中的关键词映射到只读链上操作。
var actionKeywords = []struct {
	action   string
	keywords []string
}{
	{web3.ActionBalance, []string{"balance", "saldo"}},
	{web3.ActionTransactionCount, []string{"nonce", "transaction count", "transacciones"}},
	{web3.ActionGasPrice, []string{"gas"}},
}

// ChainReport 是链 worker 的输出。
type ChainReport struct {
	Snapshot     web3.ChainSnapshot `json:"snapshot"`
	Action       string             `json:"action,omitempty"`
	Address      string             `json:"address,omitempty"`
	ActionResult string             `json:"action_result,omitempty"`
	Observations []string           `json:"observations,omitempty"`
}

// String 用于拼接后续步骤的提示词。
func (r ChainReport) String() string {
	parts := []string{fmt.Sprintf("chain %s id=%s block=%s", r.Snapshot.Chain, r.Snapshot.ChainID, r.Snapshot.BlockNumber)}
	if r.Action != "" {
		parts = append(parts, fmt.Sprintf("%s(%s)=%s", r.Action, r.Address, r.ActionResult))
	}
	parts = append(parts, r.Observations...)
	return strings.Join(parts, "; ")
}

type chainWorker struct {
	client        web3.Client
	healthTimeout time.Duration
}

// NewChainWorker 构造读取链上状态的 worker。
func NewChainWorker(id, name string, client web3.Client) *worker.Agent {
	cw := &chainWorker{client: client, healthTimeout: 5 * time.Second}
	return worker.NewAgent(id, name, "chain", cw.handle,
		worker.WithCapabilities("web3", "blockchain", "balance"),
		worker.WithActivate(cw.activate),
		worker.WithHealthCheck(cw.health),
	)
}

func (w *chainWorker) activate(context.Context) error {
	if w.client == nil {
		return errors.New("未配置链客户端")
	}
	return nil
}

func (w *chainWorker) health(ctx context.Context) worker.Health {
	if w.client == nil {
		return worker.Health{Healthy: false, Detail: "no chain client"}
	}
	ctx, cancel := context.WithTimeout(ctx, w.healthTimeout)
	defer cancel()
	snapshot, err := w.client.FetchChainSnapshot(ctx)
	if err != nil {
		return worker.Health{Healthy: false, Detail: err.Error()}
	}
	return worker.Health{Healthy: true, Detail: "block " + snapshot.BlockNumber}
}

func (w *chainWorker) handle(ctx context.Context, task worker.Task, _ worker.ExecContext) worker.Result {
	report := ChainReport{}
	snapshot, err := w.client.FetchChainSnapshot(ctx)
	if err != nil {
		return worker.FromError(xerrors.Wrap(xerrors.CodeExecutorFailure, err, "获取链上信息失败"))
	}
	report.Snapshot = snapshot

	action, address := ParseChainCommand(task)
	if action != "" {
		report.Action, report.Address = action, address
		value, err := w.client.ExecuteAction(ctx, action, address)
		if err != nil {
			return worker.FromError(xerrors.Wrap(xerrors.CodeExecutorFailure, err, fmt.Sprintf("执行链上操作 %s 失败", action)))
		}
		report.ActionResult = value
	}
	if snapshot.GasPrice != "" {
		report.Observations = append(report.Observations, "gas price "+snapshot.GasPrice)
	}
	if snapshot.Notes != "" {
		report.Observations = append(report.Observations, snapshot.Notes)
	}
	return worker.OK(report)
}

// ParseChainCommand 从任务上下文或命令文本中解析只读操作与地址。
func ParseChainCommand(task worker.Task) (action, address string) {
	if v, ok := task.Context["chain_action"].(string); ok {
		action = strings.TrimSpace(v)
	}
	if v, ok := task.Context["address"].(string); ok {
		address = strings.TrimSpace(v)
	}
	if address == "" {
		address = addressPattern.FindString(task.Command)
	}
	if action == "" {
		lowered := strings.ToLower(task.Command)
		for _, candidate := range actionKeywords {
			for _, keyword := range candidate.keywords {
				if strings.Contains(lowered, keyword) {
					action = candidate.action
					break
				}
			}
			if action != "" {
				break
			}
		}
	}
	if address == "" && action != web3.ActionGasPrice {
		action = ""
	}
	return action, address
}
