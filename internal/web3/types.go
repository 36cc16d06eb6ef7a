package web3

import "context"

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	Chain       string `json:"chain,omitempty"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	GasPrice    string `json:"gas_price,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Supported read-only actions.
const (
	ActionBalance          = "eth_getBalance"
	ActionTransactionCount = "eth_getTransactionCount"
	ActionGasPrice         = "eth_gasPrice"
)

// Client defines the read-only operations the chain worker relies on so
// different networks can be queried uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	ExecuteAction(ctx context.Context, action, address string) (string, error)
	Close()
}
