package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"swap-detector/internal/domain"
	"swap-detector/internal/idhash"
	"swap-detector/internal/storage"
)

// TradeEventStore is an in-memory implementation of storage.TradeEventStore.
type TradeEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeEvent // keyed by trade_id
}

// NewTradeEventStore creates a new in-memory trade event store.
func NewTradeEventStore() *TradeEventStore {
	return &TradeEventStore{
		data: make(map[string]*domain.TradeEvent),
	}
}

// Compile-time interface check.
var _ storage.TradeEventStore = (*TradeEventStore)(nil)

// Insert adds a new trade. Returns ErrDuplicateKey if (signature, asset_id) exists.
func (s *TradeEventStore) Insert(_ context.Context, e *domain.TradeEvent) error {
	if e == nil || e.Signature == "" || e.AssetID == "" {
		return storage.ErrInvalidInput
	}

	id := idhash.ComputeTradeID(e.Signature, e.AssetID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[id]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.data[id] = &copy
	return nil
}

// GetBySignature retrieves all trades recorded for a transaction.
func (s *TradeEventStore) GetBySignature(_ context.Context, signature string) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeEvent
	for _, e := range s.data {
		if e.Signature == signature {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AssetID < result[j].AssetID
	})
	return result, nil
}

// GetByAssetTimeRange retrieves trades for an asset within [startMs, endMs].
func (s *TradeEventStore) GetByAssetTimeRange(_ context.Context, assetID string, startMs, endMs int64) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeEvent
	for _, e := range s.data {
		if !strings.EqualFold(e.AssetID, assetID) {
			continue
		}
		ts := e.TimestampMs()
		if ts >= startMs && ts <= endMs {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].Signature < result[j].Signature
	})
	return result, nil
}
