package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"AgentHub/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
}

func (c *Client) backend() (*ethclient.Client, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.eth, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	eth, err := c.backend()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := eth.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Chain:       c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// ExecuteAction runs small read-only RPC calls for the worker layer.
func (c *Client) ExecuteAction(ctx context.Context, action, address string) (string, error) {
	eth, err := c.backend()
	if err != nil {
		return "", err
	}

	switch strings.TrimSpace(action) {
	case web3.ActionBalance:
		addr, err := parseAddress(action, address)
		if err != nil {
			return "", err
		}
		balance, err := eth.BalanceAt(ctx, addr, nil)
		if err != nil {
			return "", fmt.Errorf("查询余额失败: %w", err)
		}
		return toHexBig(balance), nil
	case web3.ActionTransactionCount:
		addr, err := parseAddress(action, address)
		if err != nil {
			return "", err
		}
		nonce, err := eth.PendingNonceAt(ctx, addr)
		if err != nil {
			return "", fmt.Errorf("查询交易计数失败: %w", err)
		}
		return fmt.Sprintf("0x%x", nonce), nil
	case web3.ActionGasPrice:
		price, err := eth.SuggestGasPrice(ctx)
		if err != nil {
			return "", fmt.Errorf("查询 gas 价格失败: %w", err)
		}
		return toHexBig(price), nil
	case "":
		return "", errors.New("链上操作不能为空")
	default:
		return "", fmt.Errorf("暂不支持的链上操作: %s", action)
	}
}

func parseAddress(action, address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return common.Address{}, fmt.Errorf("%s 需要提供地址", action)
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("无效的地址: %s", address)
	}
	return common.HexToAddress(address), nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)
