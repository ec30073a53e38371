// Package web3 houses blockchain connectivity utilities: read-only RPC
// clients, chain state queries, and multi-chain configuration helpers.
// It lets analysis modules query balances, nonces, and contract bytecode
// uniformly across supported EVM networks such as Ethereum, BSC, and
// Polygon.
package web3
