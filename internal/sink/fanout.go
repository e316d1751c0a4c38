package sink

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"swap-detector/internal/domain"
	"swap-detector/internal/observability"
)

// DefaultWriteTimeout bounds a single sink write.
const DefaultWriteTimeout = 5 * time.Second

// Fanout delivers each trade to every sink in order. Sink failures are
// logged and counted; they never reach the detector.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	log     *zap.Logger
	metrics *observability.Metrics
}

// NewFanout creates a fanout over sinks.
func NewFanout(log *zap.Logger, metrics *observability.Metrics, sinks ...Sink) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{
		sinks:   sinks,
		timeout: DefaultWriteTimeout,
		log:     log.Named("sink"),
		metrics: metrics,
	}
}

// Handle writes the trade to every sink. It matches the detector's trade
// callback signature.
func (f *Fanout) Handle(e domain.TradeEvent) {
	for _, s := range f.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		start := time.Now()
		err := s.Write(ctx, e)
		cancel()

		f.metrics.RecordSinkWrite(s.Name(), time.Since(start), err)
		if err != nil {
			f.log.Error("sink write failed",
				zap.String("sink", s.Name()),
				zap.String("signature", e.Signature),
				zap.String("asset", e.AssetID),
				zap.Error(err))
		}
	}
}

// Names returns the names of the configured sinks.
func (f *Fanout) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}

// Close closes every sink and joins their errors.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
