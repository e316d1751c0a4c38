package stub

import (
	"context"
	"fmt"
	"sync"

	"swap-detector/internal/solana"
)

// LogSubscriber implements solana.LogSubscriber for testing.
type LogSubscriber struct {
	mu       sync.Mutex
	nextID   uint64
	subs     map[uint64]chan solana.LogNotification
	filters  []solana.LogsFilter
	failWith error

	subscribes   int
	unsubscribes int
}

// NewLogSubscriber creates a new stub log subscriber.
func NewLogSubscriber() *LogSubscriber {
	return &LogSubscriber{
		subs: make(map[uint64]chan solana.LogNotification),
	}
}

// SubscribeLogs registers a subscription, or returns the configured failure.
func (s *LogSubscriber) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (*solana.LogSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribes++
	if s.failWith != nil {
		return nil, s.failWith
	}

	s.nextID++
	ch := make(chan solana.LogNotification, 100)
	s.subs[s.nextID] = ch
	s.filters = append(s.filters, filter)
	return &solana.LogSubscription{ID: s.nextID, C: ch}, nil
}

// Unsubscribe closes the subscription channel.
func (s *LogSubscriber) Unsubscribe(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.subs[id]
	if !ok {
		return fmt.Errorf("unknown subscription %d", id)
	}
	delete(s.subs, id)
	close(ch)
	s.unsubscribes++
	return nil
}

// Fail makes subsequent SubscribeLogs calls return err. Nil clears it.
func (s *LogSubscriber) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Publish delivers a notification to every live subscription.
// Returns the number of subscriptions it reached.
func (s *LogSubscriber) Publish(n solana.LogNotification) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		ch <- n
	}
	return len(s.subs)
}

// Active returns the number of live subscriptions.
func (s *LogSubscriber) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Subscribes returns the total number of SubscribeLogs calls.
func (s *LogSubscriber) Subscribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

// Unsubscribes returns the total number of successful Unsubscribe calls.
func (s *LogSubscriber) Unsubscribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribes
}

// LastFilter returns the filter of the most recent subscription.
func (s *LogSubscriber) LastFilter() solana.LogsFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.filters) == 0 {
		return solana.LogsFilter{}
	}
	return s.filters[len(s.filters)-1]
}
