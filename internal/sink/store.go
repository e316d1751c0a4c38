package sink

import (
	"context"
	"errors"

	"swap-detector/internal/domain"
	"swap-detector/internal/storage"
)

// StoreSink persists trades to a TradeEventStore.
type StoreSink struct {
	name  string
	store storage.TradeEventStore
}

// NewStoreSink creates a sink writing to store. name labels it in metrics.
func NewStoreSink(name string, store storage.TradeEventStore) *StoreSink {
	return &StoreSink{name: name, store: store}
}

// Name returns the sink name.
func (s *StoreSink) Name() string {
	return s.name
}

// Write inserts the trade. An already stored trade is not an error.
func (s *StoreSink) Write(ctx context.Context, e domain.TradeEvent) error {
	err := s.store.Insert(ctx, &e)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return nil
	}
	return err
}

// Close is a no-op; the store's connection is owned by the caller.
func (s *StoreSink) Close() error {
	return nil
}
