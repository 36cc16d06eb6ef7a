package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"AgentHub/internal/web3"
	"AgentHub/internal/web3/ethereum"
)

// Config selects which chains to connect to.
type Config struct {
	RPCURL       string
	ChainConfig  string
	DefaultChain string
}

// Dialer builds a client for one chain definition.
type Dialer func(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error)

// DialEVM connects to an EVM chain through go-ethereum.
func DialEVM(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
	return ethereum.NewClient(ctx, ethereum.Config{
		Name:   name,
		RPCURL: def.RPCURL,
		Notes:  def.Description,
	})
}

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	return Build(ctx, cfg, defs, DialEVM)
}

// Build instantiates clients for defs with the given dialer.
func Build(ctx context.Context, cfg Config, defs web3.ChainDefinitions, dial Dialer) (*Registry, error) {
	chains := make(map[string]web3.ChainDefinition, len(defs.Chains)+1)
	for name, def := range defs.Chains {
		chains[name] = def
	}
	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if len(chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		chains["default"] = web3.ChainDefinition{Type: "evm", RPCURL: cfg.RPCURL}
		if defaultChain == "" {
			defaultChain = "default"
		}
	}
	if len(chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	reg := &Registry{clients: make(map[string]web3.Client, len(chains))}
	for name, def := range chains {
		chainType := strings.ToLower(strings.TrimSpace(def.Type))
		if chainType != "" && chainType != "evm" {
			reg.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
		client, err := dial(ctx, name, def)
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		reg.clients[name] = client
	}

	if defaultChain == "" {
		defaultChain = reg.Chains()[0]
	}
	if _, ok := reg.clients[defaultChain]; !ok {
		reg.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	reg.defaultChain = defaultChain
	return reg, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
