package rpc

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client captures the subset of ethclient used by the watcher.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dialer builds a Client for a candidate URL; swapped out in tests.
type Dialer func(url string) (Client, error)

// Dial connects to an EVM node over HTTP.
func Dial(url string) (Client, error) {
	c, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return c, nil
}
