package solana

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PubkeyLength is the byte length of a Solana public key.
const PubkeyLength = 32

// DecodePubkey decodes a base58 account address and checks its length.
func DecodePubkey(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode base58 %q: %w", s, err)
	}
	if len(raw) != PubkeyLength {
		return nil, fmt.Errorf("pubkey %q: got %d bytes, want %d", s, len(raw), PubkeyLength)
	}
	return raw, nil
}

// IsOnCurve reports whether the address is a valid ed25519 point.
// Program-derived addresses are off curve and cannot sign.
func IsOnCurve(address string) bool {
	raw, err := DecodePubkey(address)
	if err != nil {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
