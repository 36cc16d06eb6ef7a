// Package web3 holds the chain access layer used by the chain worker.
// It defines the read-only Client contract, chain definitions loaded from
// YAML, and an EVM implementation built on go-ethereum's ethclient.
package web3
