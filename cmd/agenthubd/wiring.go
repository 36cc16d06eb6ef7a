package main

import (
	"context"
	"fmt"
	"strings"

	"AgentHub/internal/agent"
	"AgentHub/internal/config"
	"AgentHub/internal/coordination"
	"AgentHub/internal/events"
	"AgentHub/internal/knowledge"
	"AgentHub/internal/llm"
	"AgentHub/internal/llm/openai"
	"AgentHub/internal/llm/pythonbridge"
	"AgentHub/internal/observability/alerting"
	"AgentHub/internal/session"
	"AgentHub/internal/web3/provider"
	"AgentHub/internal/worker"
)

// attachSink 按配置将事件总线转发到 Redis 或 RabbitMQ。
func attachSink(bus *events.Bus, cfg config.EventsConfig) error {
	switch cfg.Driver {
	case "memory":
		return nil
	case "redis":
		sink, err := events.NewRedisSink(events.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return err
		}
		bus.Attach(sink)
	case "rabbitmq":
		sink, err := events.NewRabbitMQSink(events.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		bus.Attach(sink)
	default:
		return fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
	return nil
}

func openSessionStore(ctx context.Context, cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Driver {
	case "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		return session.NewRedisStore(ctx, session.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
	case "mysql":
		return session.NewMySQLStore(ctx, session.MySQLConfig{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		})
	default:
		return nil, fmt.Errorf("未知的会话存储: %s", cfg.Driver)
	}
}

func loadTemplates(cfg config.CoordinationConfig) ([]coordination.Template, error) {
	if cfg.TemplatesFile == "" {
		return coordination.DefaultTemplates(), nil
	}
	return coordination.LoadTemplates(cfg.TemplatesFile)
}

func buildNotifiers(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL, Headers: cfg.Headers})
	}
	return alerting.NewFanout(notifiers...)
}

// createLLMClient 按 provider 构造补全客户端并加上熔断保护。
func createLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	var inner llm.Client
	switch cfg.Provider {
	case "echo":
		inner = llm.EchoClient{}
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.Python.WorkingDir, cfg.Python.ScriptPath)
		client, err := pythonbridge.NewClient(cfg.Python.PythonExecutable, scriptPath, cfg.Python.WorkingDir)
		if err != nil {
			return nil, err
		}
		inner = client
	case "openai":
		client, err := openai.NewClient(openai.Config{
			APIKey:  strings.TrimSpace(cfg.OpenAI.APIKey),
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout,
		})
		if err != nil {
			return nil, err
		}
		inner = client
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.Provider)
	}
	return llm.NewBreakerClient(cfg.Provider, inner, cfg.Breaker), nil
}

// buildWorkers 构造配置中声明的全部 worker，返回的 close 用于释放链上连接。
func buildWorkers(ctx context.Context, cfg *config.Config) ([]worker.Worker, func(), error) {
	closeFn := func() {}
	client, err := createLLMClient(cfg.LLM)
	if err != nil {
		return nil, closeFn, err
	}

	var textOpts []agent.TextOption
	if cfg.Knowledge.Source != "" {
		kp, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			return nil, closeFn, err
		}
		textOpts = append(textOpts, agent.WithKnowledge(kp))
	}

	workers := make([]worker.Worker, 0, len(cfg.Workers.Text)+2)
	for _, profile := range cfg.Workers.Text {
		workers = append(workers, agent.NewTextWorker(profile, client, textOpts...))
	}
	if cfg.Workers.Preview {
		workers = append(workers, agent.NewPreviewWorker("preview-1", "previewer", client))
	}

	if cfg.Workers.Chain && cfg.Web3.Enabled {
		chains, err := provider.NewRegistry(ctx, provider.Config{
			RPCURL:       cfg.Web3.RPCURL,
			ChainConfig:  cfg.Web3.ChainConfig,
			DefaultChain: cfg.Web3.DefaultChain,
		})
		if err != nil {
			return nil, closeFn, err
		}
		closeFn = chains.Close
		web3Client, err := chains.DefaultClient()
		if err != nil {
			chains.Close()
			return nil, func() {}, err
		}
		workers = append(workers, agent.NewChainWorker("chain-1", "chain", web3Client))
	}
	return workers, closeFn, nil
}
