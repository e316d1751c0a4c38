package postgres

import (
	"context"
	"fmt"
	"strings"

	"swap-detector/internal/storage"
)

// WatchStore is a PostgreSQL implementation of storage.WatchStore.
// Rows are keyed by lower(asset_id) and keep the first spelling seen.
type WatchStore struct {
	pool *Pool
}

// NewWatchStore creates a new PostgreSQL watch store.
func NewWatchStore(pool *Pool) *WatchStore {
	return &WatchStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WatchStore = (*WatchStore)(nil)

// Add records an asset.
func (s *WatchStore) Add(ctx context.Context, assetID string) error {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO watched_assets (asset_key, asset_id, added_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (asset_key) DO NOTHING
	`, strings.ToLower(assetID), assetID)
	if err != nil {
		return fmt.Errorf("add watched asset: %w", err)
	}
	return nil
}

// Remove forgets an asset.
func (s *WatchStore) Remove(ctx context.Context, assetID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM watched_assets WHERE asset_key = $1
	`, strings.ToLower(strings.TrimSpace(assetID)))
	if err != nil {
		return fmt.Errorf("remove watched asset: %w", err)
	}
	return nil
}

// Clear forgets every asset.
func (s *WatchStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM watched_assets`); err != nil {
		return fmt.Errorf("clear watched assets: %w", err)
	}
	return nil
}

// List returns every stored asset in ascending order.
func (s *WatchStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT asset_id FROM watched_assets ORDER BY asset_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list watched assets: %w", err)
	}
	defer rows.Close()

	assets := []string{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan watched asset: %w", err)
		}
		assets = append(assets, a)
	}

	return assets, rows.Err()
}
