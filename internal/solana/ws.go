package solana

import "context"

// LogSubscriber defines the Solana logs subscription interface.
type LogSubscriber interface {
	// SubscribeLogs subscribes to program logs matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (*LogSubscription, error)

	// Unsubscribe cancels a subscription and closes its channel.
	Unsubscribe(ctx context.Context, id uint64) error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these program IDs.
	Mentions []string
	// Commitment is the commitment level of delivered notifications.
	// Empty means confirmed.
	Commitment string
}

// LogSubscription is a live logs subscription.
// ID is a client-local handle and stays valid across reconnects.
type LogSubscription struct {
	ID uint64
	C  <-chan LogNotification
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
