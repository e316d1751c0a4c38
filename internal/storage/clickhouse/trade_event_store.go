package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"swap-detector/internal/domain"
	"swap-detector/internal/idhash"
	"swap-detector/internal/solana"
	"swap-detector/internal/storage"
)

// TradeEventStore implements storage.TradeEventStore using ClickHouse.
// MergeTree does not enforce uniqueness, so Insert checks trade_id first.
type TradeEventStore struct {
	conn *Conn
}

// NewTradeEventStore creates a new TradeEventStore.
func NewTradeEventStore(conn *Conn) *TradeEventStore {
	return &TradeEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeEventStore = (*TradeEventStore)(nil)

// Insert adds a new trade. Returns ErrDuplicateKey if (signature, asset_id) exists.
func (s *TradeEventStore) Insert(ctx context.Context, e *domain.TradeEvent) error {
	if e == nil || e.Signature == "" || e.AssetID == "" {
		return storage.ErrInvalidInput
	}

	tradeID := idhash.ComputeTradeID(e.Signature, e.AssetID)

	exists, err := s.exists(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_events (
			trade_id, asset_key, asset_id, native_amount, asset_amount, is_buy,
			user_id, user_off_curve, signature, timestamp_ms, price
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	var isBuy uint8
	if e.IsBuy {
		isBuy = 1
	}
	var offCurve uint8
	if e.UserID != "" && !solana.IsOnCurve(e.UserID) {
		offCurve = 1
	}

	err = batch.Append(
		tradeID, strings.ToLower(e.AssetID), e.AssetID, e.NativeAmount, e.AssetAmount, isBuy,
		e.UserID, offCurve, e.Signature, uint64(e.TimestampMs()), e.Price,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySignature retrieves all trades recorded for a transaction.
func (s *TradeEventStore) GetBySignature(ctx context.Context, signature string) ([]*domain.TradeEvent, error) {
	query := `
		SELECT asset_id, native_amount, asset_amount, is_buy, user_id, signature, timestamp_ms, price
		FROM trade_events
		WHERE signature = ?
		ORDER BY asset_id ASC
	`

	rows, err := s.conn.Query(ctx, query, signature)
	if err != nil {
		return nil, fmt.Errorf("query by signature: %w", err)
	}
	defer rows.Close()

	return scanTradeEvents(rows)
}

// GetByAssetTimeRange retrieves trades for an asset within [startMs, endMs].
func (s *TradeEventStore) GetByAssetTimeRange(ctx context.Context, assetID string, startMs, endMs int64) ([]*domain.TradeEvent, error) {
	if startMs < 0 {
		startMs = 0
	}
	if endMs < startMs {
		return nil, nil
	}

	query := `
		SELECT asset_id, native_amount, asset_amount, is_buy, user_id, signature, timestamp_ms, price
		FROM trade_events
		WHERE asset_key = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, signature ASC
	`

	rows, err := s.conn.Query(ctx, query, strings.ToLower(assetID), uint64(startMs), uint64(endMs))
	if err != nil {
		return nil, fmt.Errorf("query by asset time range: %w", err)
	}
	defer rows.Close()

	return scanTradeEvents(rows)
}

// exists checks if a trade with the given id exists.
func (s *TradeEventStore) exists(ctx context.Context, tradeID string) (bool, error) {
	query := `
		SELECT count(*) FROM trade_events
		WHERE trade_id = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, tradeID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanTradeEvents scans multiple rows.
func scanTradeEvents(rows chRows) ([]*domain.TradeEvent, error) {
	var events []*domain.TradeEvent

	for rows.Next() {
		var e domain.TradeEvent
		var isBuy uint8
		var timestampMs uint64

		err := rows.Scan(
			&e.AssetID, &e.NativeAmount, &e.AssetAmount, &isBuy,
			&e.UserID, &e.Signature, &timestampMs, &e.Price,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade event row: %w", err)
		}

		e.IsBuy = isBuy == 1
		e.Timestamp = float64(timestampMs) / 1000
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade event rows: %w", err)
	}

	return events, nil
}
