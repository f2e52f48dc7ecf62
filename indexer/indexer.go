// Package indexer is the boundary to the secondary chain indexer. It is a
// fallback data source only: the confirmation resolver consults it when the
// custody provider lags behind the chain.
package indexer

import (
	"context"
	"math/big"
	"time"
)

// TransferQuery keys a fallback lookup. Amount is in the chain's smallest
// unit; Window bounds how far back the indexer searches.
type TransferQuery struct {
	FromAddress string
	ToAddress   string
	Amount      *big.Int
	Window      time.Duration
}

// IndexedTransfer is a transfer the indexer observed on chain.
type IndexedTransfer struct {
	TxHash      string    `json:"txHash"`
	FromAddress string    `json:"fromAddress"`
	ToAddress   string    `json:"toAddress"`
	Amount      *big.Int  `json:"amount"`
	BlockNumber uint64    `json:"blockNumber"`
	Timestamp   time.Time `json:"timestamp"`
}

// TxStatus is an on-chain status lookup by hash.
type TxStatus struct {
	TxHash    string `json:"txHash"`
	Confirmed bool   `json:"confirmed"`
	Success   bool   `json:"success"`
}

// ChainIndexer looks up transfers the provider has not surfaced yet.
// FindTransfer returns nil (not an error) when nothing matches.
type ChainIndexer interface {
	FindTransfer(ctx context.Context, q TransferQuery) (*IndexedTransfer, error)
	TxStatusByHash(ctx context.Context, hash string) (*TxStatus, error)
}
