package web3

import (
	"context"
	"math/big"
)

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// AccountState bundles the chain facts a single state query returns for
// one address.
type AccountState struct {
	Balance  *big.Int
	Nonce    uint64
	CodeSize int
}

// IsContract reports whether the address carries deployed bytecode.
func (s AccountState) IsContract() bool {
	return s.CodeSize > 0
}

// Client defines the common interface that any chain implementation must
// provide so analysis modules can read different networks uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	BalanceAt(ctx context.Context, address string) (*big.Int, error)
	TransactionCount(ctx context.Context, address string) (uint64, error)
	CodeAt(ctx context.Context, address string) ([]byte, error)
	AccountState(ctx context.Context, address string) (AccountState, error)
	Close()
}
