package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(signature|lower(asset_id))
// Returns hex-encoded hash (64 characters).
func ComputeTradeID(signature, assetID string) string {
	data := fmt.Sprintf("%s|%s",
		signature,
		strings.ToLower(strings.TrimSpace(assetID)),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
