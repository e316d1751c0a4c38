package domain

import "fmt"

// TradeEvent is a swap through the aggregator that moved a watched asset.
// Immutable once constructed.
type TradeEvent struct {
	AssetID      string  // watched mint, original spelling
	NativeAmount float64 // SOL moved by the user, >= 0
	AssetAmount  float64 // asset UI units moved by the user, >= 0
	IsBuy        bool    // user's asset balance grew
	UserID       string  // owner of the winning token account
	Signature    string  // transaction signature
	Timestamp    float64 // Unix seconds (block time, or detection time when absent)
	Price        float64 // NativeAmount / AssetAmount, 0 when AssetAmount is 0
}

// NewTradeEvent builds a TradeEvent and derives its price.
func NewTradeEvent(assetID string, nativeAmount, assetAmount float64, isBuy bool, userID, signature string, timestamp float64) TradeEvent {
	var price float64
	if assetAmount != 0 {
		price = nativeAmount / assetAmount
	}
	return TradeEvent{
		AssetID:      assetID,
		NativeAmount: nativeAmount,
		AssetAmount:  assetAmount,
		IsBuy:        isBuy,
		UserID:       userID,
		Signature:    signature,
		Timestamp:    timestamp,
		Price:        price,
	}
}

// Side returns the trade direction.
func (e TradeEvent) Side() Side {
	if e.IsBuy {
		return SideBuy
	}
	return SideSell
}

// TimestampMs returns the timestamp in Unix milliseconds.
func (e TradeEvent) TimestampMs() int64 {
	return int64(e.Timestamp * 1000)
}

// String implements fmt.Stringer.
func (e TradeEvent) String() string {
	return fmt.Sprintf("%s %s %.6f @ %.9f SOL (%s)", e.Side(), e.AssetID, e.AssetAmount, e.Price, e.Signature)
}

// Side represents the direction of a trade from the user's point of view.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// String returns the string representation of Side.
func (s Side) String() string {
	return string(s)
}

// IsValid checks if the side is a valid value.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}
