package modules

import (
	"context"
	"math/big"
	"testing"

	"ChainGuard/internal/analysis"
	"ChainGuard/internal/cache"
	"ChainGuard/internal/web3"
	"ChainGuard/internal/web3/ethereum"
	"ChainGuard/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common"
)

// fakeChainReader 模拟链上状态查询，余额、交易计数与字节码
// 都由测试直接给定。
type fakeChainReader struct {
	balance *big.Int
	nonce   uint64
	code    []byte
	err     error
}

func (r *fakeChainReader) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (r *fakeChainReader) BlockNumber(ctx context.Context) (uint64, error) {
	return 1000, nil
}

func (r *fakeChainReader) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(r.balance), nil
}

func (r *fakeChainReader) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.nonce, nil
}

func (r *fakeChainReader) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.code, nil
}

// fakeMarket 模拟行情数据源。
type fakeMarket struct {
	pair    *PairStats
	holders *HolderStats
	err     error
}

func (m *fakeMarket) PairStats(ctx context.Context, chain, address string) (*PairStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.pair, nil
}

func (m *fakeMarket) HolderStats(ctx context.Context, chain, address string) (*HolderStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.holders, nil
}

func testDeps(t *testing.T, reader *fakeChainReader, market MarketClient) Deps {
	t.Helper()

	store := cache.New(cache.Config{})
	t.Cleanup(store.Close)

	deps := Deps{Market: market, Cache: store}
	if reader != nil {
		client := ethereum.NewClientWithReader("ethereum", reader)
		registry, err := provider.NewRegistryWithClients("ethereum", map[string]web3.Client{
			"ethereum": client,
		})
		if err != nil {
			t.Fatalf("build chain registry: %v", err)
		}
		deps.Chains = registry
	}
	return deps
}

func signalTypes(signals []analysis.Signal) []string {
	types := make([]string, 0, len(signals))
	for _, s := range signals {
		types = append(types, s.Type)
	}
	return types
}

func hasSignal(signals []analysis.Signal, signalType string) bool {
	for _, s := range signals {
		if s.Type == signalType {
			return true
		}
	}
	return false
}
