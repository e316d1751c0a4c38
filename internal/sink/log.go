package sink

import (
	"context"

	"go.uber.org/zap"

	"swap-detector/internal/domain"
)

// LogSink writes every trade to the log. It is the paper consumer used when
// no other sink is configured.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log.Named("trades")}
}

// Name returns the sink name.
func (s *LogSink) Name() string {
	return "log"
}

// Write logs the trade.
func (s *LogSink) Write(_ context.Context, e domain.TradeEvent) error {
	s.log.Info("trade",
		zap.String("asset", e.AssetID),
		zap.String("side", e.Side().String()),
		zap.Float64("native", e.NativeAmount),
		zap.Float64("asset_amount", e.AssetAmount),
		zap.Float64("price", e.Price),
		zap.String("user", e.UserID),
		zap.String("signature", e.Signature),
		zap.Float64("timestamp", e.Timestamp))
	return nil
}

// Close flushes the logger.
func (s *LogSink) Close() error {
	_ = s.log.Sync()
	return nil
}
