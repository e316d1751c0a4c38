// Package sink delivers detected trades to downstream consumers.
package sink

import (
	"context"

	"swap-detector/internal/domain"
)

// Sink consumes trade events. Implementations must be safe for concurrent use:
// trades are delivered from fetch goroutines.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Write delivers one trade. Writing the same trade twice must not
	// duplicate it downstream where the sink can tell.
	Write(ctx context.Context, e domain.TradeEvent) error

	// Close releases resources.
	Close() error
}
