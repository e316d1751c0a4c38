package detector

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Classification defaults.
const (
	DefaultVaultThreshold = 100000 // UI units; larger balances belong to pools
	DefaultNativeDust     = 0.001  // SOL; fee-sized movements are ignored
)

// Match is a trade recognized in a transaction's balance deltas.
type Match struct {
	AssetID      string
	NativeAmount float64
	AssetAmount  float64
	IsBuy        bool
	UserID       string
}

// Classifier turns balance deltas into a buy or sell of a watched asset.
type Classifier struct {
	vaultThreshold decimal.Decimal
	nativeDust     decimal.Decimal
}

// NewClassifier creates a classifier with the given thresholds.
// Non-positive values fall back to the defaults.
func NewClassifier(vaultThreshold, nativeDust float64) *Classifier {
	if vaultThreshold <= 0 {
		vaultThreshold = DefaultVaultThreshold
	}
	if nativeDust <= 0 {
		nativeDust = DefaultNativeDust
	}
	return &Classifier{
		vaultThreshold: decimal.NewFromFloat(vaultThreshold),
		nativeDust:     decimal.NewFromFloat(nativeDust),
	}
}

// Classify returns the first watched asset, in the given order, that the
// transaction traded against native SOL.
func (c *Classifier) Classify(b *Balances, watched []string) (Match, bool) {
	if b == nil {
		return Match{}, false
	}

	for _, asset := range watched {
		tok, ok := c.userTokenDelta(b, asset)
		if !ok {
			continue
		}

		native, nativeAddr, ok := c.largestNative(b)
		if !ok {
			continue
		}

		userID := tok.Owner
		if userID == "" {
			userID = nativeAddr
		}
		if userID == "" && len(b.AccountKeys) > 0 {
			userID = b.AccountKeys[0]
		}

		return Match{
			AssetID:      asset,
			NativeAmount: native.InexactFloat64(),
			AssetAmount:  tok.Change().InexactFloat64(),
			IsBuy:        tok.Post.GreaterThan(tok.Pre),
			UserID:       userID,
		}, true
	}

	return Match{}, false
}

// userTokenDelta picks the non-vault account with the largest balance change
// in asset. Zero change is no match.
func (c *Classifier) userTokenDelta(b *Balances, asset string) (TokenDelta, bool) {
	var (
		best  TokenDelta
		found bool
	)
	for _, t := range b.Tokens {
		if !strings.EqualFold(t.Mint, asset) {
			continue
		}
		if t.Pre.GreaterThan(c.vaultThreshold) || t.Post.GreaterThan(c.vaultThreshold) {
			continue
		}
		if !found || t.Change().GreaterThan(best.Change()) {
			best = t
			found = true
		}
	}
	if !found || best.Change().IsZero() {
		return TokenDelta{}, false
	}
	return best, true
}

// largestNative returns the largest native change above the dust threshold
// and the account that holds it.
func (c *Classifier) largestNative(b *Balances) (decimal.Decimal, string, bool) {
	best := decimal.Zero
	addr := ""
	for _, n := range b.Native {
		change := n.Change()
		if change.LessThanOrEqual(c.nativeDust) {
			continue
		}
		if change.GreaterThan(best) {
			best = change
			addr = n.Address
		}
	}
	if best.LessThanOrEqual(c.nativeDust) {
		return decimal.Zero, "", false
	}
	return best, addr, true
}
