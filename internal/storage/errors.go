package storage

import "errors"

var (
	// ErrDuplicateKey is returned when a trade with the same trade_id was
	// already recorded. Trade stores are append-only.
	ErrDuplicateKey = errors.New("trade already recorded")

	// ErrInvalidInput is returned for empty asset ids or malformed trades.
	ErrInvalidInput = errors.New("invalid input")
)
