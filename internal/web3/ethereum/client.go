package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"ChainGuard/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// stateReader mirrors the subset of ethclient methods the analysis
// modules rely on, so tests can substitute a fake backend.
type stateReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	reader    stateReader
	mu        sync.Mutex
}

var _ web3.Client = (*Client)(nil)

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
		reader:    ethclient.NewClient(rpcClient),
	}, nil
}

// NewClientWithReader wraps an arbitrary state reader for testing purposes.
func NewClientWithReader(name string, reader stateReader) *Client {
	return &Client{
		name:   name,
		reader: reader,
		notes:  "injected backend",
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	c.reader = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	reader, err := c.stateBackend()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}

	chainID, err := reader.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := reader.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// BalanceAt returns the latest balance of the address in wei.
func (c *Client) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	reader, err := c.stateBackend()
	if err != nil {
		return nil, err
	}
	balance, err := reader.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// TransactionCount returns the confirmed nonce of the address.
func (c *Client) TransactionCount(ctx context.Context, address string) (uint64, error) {
	reader, err := c.stateBackend()
	if err != nil {
		return 0, err
	}
	nonce, err := reader.NonceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return 0, fmt.Errorf("查询交易计数失败: %w", err)
	}
	return nonce, nil
}

// CodeAt returns the deployed bytecode at the address, empty for EOAs.
func (c *Client) CodeAt(ctx context.Context, address string) ([]byte, error) {
	reader, err := c.stateBackend()
	if err != nil {
		return nil, err
	}
	code, err := reader.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("查询合约字节码失败: %w", err)
	}
	return code, nil
}

// AccountState fetches balance, nonce, and code size in one pass.
func (c *Client) AccountState(ctx context.Context, address string) (web3.AccountState, error) {
	balance, err := c.BalanceAt(ctx, address)
	if err != nil {
		return web3.AccountState{}, err
	}
	nonce, err := c.TransactionCount(ctx, address)
	if err != nil {
		return web3.AccountState{}, err
	}
	code, err := c.CodeAt(ctx, address)
	if err != nil {
		return web3.AccountState{}, err
	}
	return web3.AccountState{
		Balance:  balance,
		Nonce:    nonce,
		CodeSize: len(code),
	}, nil
}

func (c *Client) stateBackend() (stateReader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c == nil || c.reader == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	return c.reader, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
