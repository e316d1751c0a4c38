package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"swap-detector/internal/domain"
	"swap-detector/internal/idhash"
)

// KafkaConfig configures the Kafka trade publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Timeout time.Duration
}

// KafkaSink publishes trades as JSON messages keyed by asset, so every trade
// of one asset lands in the same partition in detection order.
type KafkaSink struct {
	topic string
	prod  sarama.SyncProducer
}

// tradeMessage is the published payload.
type tradeMessage struct {
	TradeID      string  `json:"trade_id"`
	AssetID      string  `json:"asset_id"`
	Side         string  `json:"side"`
	IsBuy        bool    `json:"is_buy"`
	NativeAmount float64 `json:"native_amount"`
	AssetAmount  float64 `json:"asset_amount"`
	Price        float64 `json:"price"`
	UserID       string  `json:"user_id"`
	Signature    string  `json:"signature"`
	Timestamp    float64 `json:"timestamp"`
}

// NewKafkaSink connects a synchronous producer to the brokers.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink: brokers required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka sink: topic required")
	}

	prod, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("kafka sink: new producer: %w", err)
	}
	return NewKafkaSinkWithProducer(prod, cfg.Topic), nil
}

// NewKafkaSinkWithProducer wraps an existing producer.
func NewKafkaSinkWithProducer(prod sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{topic: topic, prod: prod}
}

func saramaConfig(cfg KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	if cfg.Timeout > 0 {
		sc.Producer.Timeout = cfg.Timeout
		sc.Net.DialTimeout = cfg.Timeout
	}
	return sc
}

// Name returns the sink name.
func (s *KafkaSink) Name() string {
	return "kafka"
}

// Write publishes one trade. The producer has its own timeout; ctx is only
// checked before sending.
func (s *KafkaSink) Write(ctx context.Context, e domain.TradeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(tradeMessage{
		TradeID:      idhash.ComputeTradeID(e.Signature, e.AssetID),
		AssetID:      e.AssetID,
		Side:         e.Side().String(),
		IsBuy:        e.IsBuy,
		NativeAmount: e.NativeAmount,
		AssetAmount:  e.AssetAmount,
		Price:        e.Price,
		UserID:       e.UserID,
		Signature:    e.Signature,
		Timestamp:    e.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}

	_, _, err = s.prod.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(e.AssetID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", s.topic, err)
	}
	return nil
}

// Close closes the producer.
func (s *KafkaSink) Close() error {
	return s.prod.Close()
}
