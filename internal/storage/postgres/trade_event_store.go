package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"swap-detector/internal/domain"
	"swap-detector/internal/idhash"
	"swap-detector/internal/solana"
	"swap-detector/internal/storage"
)

// TradeEventStore implements storage.TradeEventStore using PostgreSQL.
type TradeEventStore struct {
	pool *Pool
}

// NewTradeEventStore creates a new TradeEventStore.
func NewTradeEventStore(pool *Pool) *TradeEventStore {
	return &TradeEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeEventStore = (*TradeEventStore)(nil)

const tradeEventColumns = `
	asset_id, native_amount, asset_amount, is_buy, user_id, signature, timestamp_s, price
`

// Insert adds a new trade. Returns ErrDuplicateKey if (signature, asset_id) exists.
// user_off_curve marks trades whose user account is a program-derived address.
func (s *TradeEventStore) Insert(ctx context.Context, e *domain.TradeEvent) error {
	if e == nil || e.Signature == "" || e.AssetID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trade_events (
			trade_id, asset_key,
			asset_id, native_amount, asset_amount, is_buy, user_id, signature, timestamp_s, price,
			timestamp_ms, user_off_curve
		) VALUES (
			$1, $2,
			$3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12
		)
	`

	_, err := s.pool.Exec(ctx, query,
		idhash.ComputeTradeID(e.Signature, e.AssetID), strings.ToLower(e.AssetID),
		e.AssetID, e.NativeAmount, e.AssetAmount, e.IsBuy, e.UserID, e.Signature, e.Timestamp, e.Price,
		e.TimestampMs(), e.UserID != "" && !solana.IsOnCurve(e.UserID),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade event: %w", err)
	}
	return nil
}

// GetBySignature retrieves all trades recorded for a transaction.
func (s *TradeEventStore) GetBySignature(ctx context.Context, signature string) ([]*domain.TradeEvent, error) {
	query := `
		SELECT ` + tradeEventColumns + `
		FROM trade_events
		WHERE signature = $1
		ORDER BY asset_id ASC
	`

	rows, err := s.pool.Query(ctx, query, signature)
	if err != nil {
		return nil, fmt.Errorf("get trade events by signature: %w", err)
	}
	defer rows.Close()

	return scanTradeEvents(rows)
}

// GetByAssetTimeRange retrieves trades for an asset within [startMs, endMs].
func (s *TradeEventStore) GetByAssetTimeRange(ctx context.Context, assetID string, startMs, endMs int64) ([]*domain.TradeEvent, error) {
	query := `
		SELECT ` + tradeEventColumns + `
		FROM trade_events
		WHERE asset_key = $1 AND timestamp_ms >= $2 AND timestamp_ms <= $3
		ORDER BY timestamp_ms ASC, signature ASC
	`

	rows, err := s.pool.Query(ctx, query, strings.ToLower(assetID), startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("get trade events by asset time range: %w", err)
	}
	defer rows.Close()

	return scanTradeEvents(rows)
}

// scanTradeEvents scans multiple rows into a slice of TradeEvent.
func scanTradeEvents(rows pgx.Rows) ([]*domain.TradeEvent, error) {
	var events []*domain.TradeEvent

	for rows.Next() {
		var e domain.TradeEvent

		err := rows.Scan(
			&e.AssetID, &e.NativeAmount, &e.AssetAmount, &e.IsBuy,
			&e.UserID, &e.Signature, &e.Timestamp, &e.Price,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade event row: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade event rows: %w", err)
	}

	return events, nil
}

// CountOffCurveUsers returns how many stored trades for an asset were made
// from program-derived accounts.
func (s *TradeEventStore) CountOffCurveUsers(ctx context.Context, assetID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM trade_events
		WHERE asset_key = $1 AND user_off_curve
	`, strings.ToLower(assetID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count off-curve users: %w", err)
	}
	return n, nil
}
