package storage

import (
	"context"

	"swap-detector/internal/domain"
)

// TradeEventStore provides access to trade_events storage.
// Records are keyed by idhash.ComputeTradeID(signature, asset_id).
type TradeEventStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if (signature, asset_id) exists.
	Insert(ctx context.Context, e *domain.TradeEvent) error

	// GetBySignature retrieves all trades recorded for a transaction.
	GetBySignature(ctx context.Context, signature string) ([]*domain.TradeEvent, error)

	// GetByAssetTimeRange retrieves trades for an asset with timestamp in
	// [startMs, endMs] (inclusive, Unix milliseconds), ordered by timestamp ASC.
	GetByAssetTimeRange(ctx context.Context, assetID string, startMs, endMs int64) ([]*domain.TradeEvent, error)
}

// WatchStore persists the watch set so a restarted process resumes it.
type WatchStore interface {
	// Add records an asset. Adding an existing asset is a no-op.
	Add(ctx context.Context, assetID string) error

	// Remove forgets an asset. Removing an unknown asset is a no-op.
	Remove(ctx context.Context, assetID string) error

	// Clear forgets every asset.
	Clear(ctx context.Context) error

	// List returns every stored asset in ascending order.
	List(ctx context.Context) ([]string, error)
}
