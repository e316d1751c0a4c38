package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"swap-detector/internal/storage"
)

// WatchStore is an in-memory implementation of storage.WatchStore.
type WatchStore struct {
	mu     sync.RWMutex
	assets map[string]string // lower(asset) -> original spelling
}

// NewWatchStore creates a new in-memory watch store.
func NewWatchStore() *WatchStore {
	return &WatchStore{
		assets: make(map[string]string),
	}
}

// Compile-time interface check.
var _ storage.WatchStore = (*WatchStore)(nil)

// Add records an asset.
func (s *WatchStore) Add(_ context.Context, assetID string) error {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(assetID)
	if _, exists := s.assets[key]; !exists {
		s.assets[key] = assetID
	}
	return nil
}

// Remove forgets an asset.
func (s *WatchStore) Remove(_ context.Context, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.assets, strings.ToLower(strings.TrimSpace(assetID)))
	return nil
}

// Clear forgets every asset.
func (s *WatchStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assets = make(map[string]string)
	return nil
}

// List returns every stored asset in ascending order.
func (s *WatchStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, 0, len(s.assets))
	for _, a := range s.assets {
		result = append(result, a)
	}
	sort.Strings(result)
	return result, nil
}
