package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/knowledge"
	"AgentHub/internal/llm"
	"AgentHub/internal/web3"
	"AgentHub/internal/worker"
)

func recordingClient(reply string, prompts *[]string) llm.Client {
	return llm.ClientFunc(func(_ context.Context, prompt string, opts llm.Options) (string, error) {
		*prompts = append(*prompts, opts.System+"\n---\n"+prompt)
		return reply, nil
	})
}

func TestTextWorkerBuildsPrompt(t *testing.T) {
	var prompts []string
	profile := DefaultProfiles()[1]
	kb := knowledge.NewStaticProvider([]knowledge.Snippet{{Title: "Style", Content: "短句", Keywords: []string{"blog"}}}, 2)
	w := NewTextWorker(profile, recordingClient("draft", &prompts), WithKnowledge(kb))

	require.True(t, w.Activate(context.Background()).Success)
	prev := worker.OK(map[string]any{"text": "findings: latency is high"})
	res := w.Execute(context.Background(), worker.NewTask("content", "write a blog"), worker.ExecContext{
		PreviousResult: &prev,
		Coordination:   &worker.CoordinationInfo{Pipeline: "content_from_analysis", Total: 3, Step: 2, Peers: []string{"analyst", "reviewer"}},
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "draft", res.Text())
	require.Len(t, prompts, 1)
	prompt := prompts[0]
	assert.Contains(t, prompt, profile.System)
	assert.Contains(t, prompt, "write a blog")
	assert.Contains(t, prompt, "第 2/3 步")
	assert.Contains(t, prompt, "latency is high")
	assert.Contains(t, prompt, "## 参考资料")
}

func TestTextWorkerIgnoresFailedPrevious(t *testing.T) {
	var prompts []string
	w := NewTextWorker(DefaultProfiles()[0], recordingClient("ok", &prompts))
	prev := worker.Fail(xerrors.CodeExecutorFailure, "boom-previous")
	res := w.Execute(context.Background(), worker.NewTask("analysis", "analyze api"), worker.ExecContext{PreviousResult: &prev})
	require.True(t, res.Success)
	assert.NotContains(t, prompts[0], "boom-previous")
}

func TestTextWorkerErrors(t *testing.T) {
	failing := llm.ClientFunc(func(context.Context, string, llm.Options) (string, error) {
		return "", errors.New("upstream down")
	})
	w := NewTextWorker(DefaultProfiles()[0], failing)

	res := w.Execute(context.Background(), worker.NewTask("analysis", "   "), worker.ExecContext{})
	assert.Equal(t, xerrors.CodeInvalidArgument, res.Code)

	res = w.Execute(context.Background(), worker.NewTask("analysis", "analyze"), worker.ExecContext{})
	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeExecutorFailure, res.Code)

	slow := llm.ClientFunc(func(context.Context, string, llm.Options) (string, error) {
		return "", context.DeadlineExceeded
	})
	res = NewTextWorker(DefaultProfiles()[0], slow).Execute(context.Background(), worker.NewTask("analysis", "analyze"), worker.ExecContext{})
	assert.Equal(t, xerrors.CodeTimeout, res.Code)
}

func TestTextWorkerActivationRequiresClient(t *testing.T) {
	w := NewTextWorker(DefaultProfiles()[2], nil)
	res := w.Activate(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeInitializationFailure, res.Code)
	assert.False(t, w.HealthCheck(context.Background()).Healthy)
}

func TestTextWorkerHealthFollowsBreaker(t *testing.T) {
	failing := llm.ClientFunc(func(context.Context, string, llm.Options) (string, error) {
		return "", errors.New("down")
	})
	breaker := llm.NewBreakerClient("test", failing, llm.BreakerConfig{MaxFailures: 1})
	w := NewTextWorker(DefaultProfiles()[0], breaker)
	require.True(t, w.HealthCheck(context.Background()).Healthy)

	w.Execute(context.Background(), worker.NewTask("analysis", "analyze"), worker.ExecContext{})
	assert.False(t, w.HealthCheck(context.Background()).Healthy)
}

type fakeChain struct {
	snapshot web3.ChainSnapshot
	err      error
	actions  []string
	value    string
}

func (f *fakeChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return f.snapshot, f.err
}

func (f *fakeChain) ExecuteAction(_ context.Context, action, address string) (string, error) {
	f.actions = append(f.actions, action+":"+address)
	return f.value, nil
}

func (f *fakeChain) Close() {}

const sampleAddress = "0x00000000219ab540356cBB839Cbe05303d7705Fa"

func TestChainWorkerBalance(t *testing.T) {
	chain := &fakeChain{snapshot: web3.ChainSnapshot{Chain: "ethereum", ChainID: "1", BlockNumber: "100"}, value: "42"}
	w := NewChainWorker("chain-1", "chain", chain)
	require.True(t, w.Activate(context.Background()).Success)

	res := w.Execute(context.Background(), worker.NewTask("chain", "what is the balance of "+sampleAddress), worker.ExecContext{})
	require.True(t, res.Success, res.Error)
	report, ok := res.Data.(ChainReport)
	require.True(t, ok)
	assert.Equal(t, web3.ActionBalance, report.Action)
	assert.Equal(t, "42", report.ActionResult)
	assert.Equal(t, []string{web3.ActionBalance + ":" + sampleAddress}, chain.actions)
	assert.Contains(t, res.Text(), "block=100")
}

func TestChainWorkerSnapshotFailure(t *testing.T) {
	chain := &fakeChain{err: errors.New("rpc unreachable")}
	w := NewChainWorker("chain-1", "chain", chain)
	res := w.Execute(context.Background(), worker.NewTask("chain", "status"), worker.ExecContext{})
	assert.False(t, res.Success)
	assert.Equal(t, xerrors.CodeExecutorFailure, res.Code)
	assert.False(t, w.HealthCheck(context.Background()).Healthy)
}

func TestParseChainCommand(t *testing.T) {
	cases := []struct {
		command string
		ctx     map[string]any
		action  string
		address string
	}{
		{command: "saldo de " + sampleAddress, action: web3.ActionBalance, address: sampleAddress},
		{command: "nonce for " + sampleAddress, action: web3.ActionTransactionCount, address: sampleAddress},
		{command: "current gas", action: web3.ActionGasPrice},
		{command: "balance please", action: ""},
		{command: "anything", ctx: map[string]any{"chain_action": web3.ActionBalance, "address": sampleAddress}, action: web3.ActionBalance, address: sampleAddress},
	}
	for _, tc := range cases {
		action, address := ParseChainCommand(worker.NewTask("chain", tc.command, worker.WithContext(tc.ctx)))
		assert.Equal(t, tc.action, action, tc.command)
		if tc.action != "" {
			assert.Equal(t, tc.address, address, tc.command)
		}
	}
}

func TestPreviewWorkerEmitsPayload(t *testing.T) {
	var prompts []string
	w := NewPreviewWorker("preview-1", "previewer", recordingClient("# Launch\nWe shipped.\nLine one\nLine two", &prompts))
	prev := worker.OK(map[string]any{"text": "final reviewed article"})
	res := w.Execute(context.Background(), worker.NewTask("preview", "preview it"), worker.ExecContext{PreviousResult: &prev})

	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Payload)
	assert.Equal(t, PreviewPayloadType, res.Payload.Type)
	preview, ok := res.Payload.Data.(Preview)
	require.True(t, ok)
	assert.Equal(t, "Launch", preview.Title)
	assert.Equal(t, "We shipped.", preview.Summary)
	assert.Equal(t, "Line one\nLine two", preview.Body)
	assert.True(t, strings.HasSuffix(prompts[0], "final reviewed article"))
}

func TestParsePreviewShortInput(t *testing.T) {
	assert.Equal(t, Preview{}, ParsePreview("  "))
	assert.Equal(t, Preview{Title: "Only", Body: "Only"}, ParsePreview("Only"))
	long := strings.Repeat("x", 400)
	p := ParsePreview("T\n" + long + "\nbody")
	assert.Len(t, p.Summary, summaryLimit)
}
