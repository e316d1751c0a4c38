package detector

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"swap-detector/internal/solana"
)

// lamportsPerSOLExp is the decimal exponent between lamports and SOL.
const lamportsPerSOLExp = 9

// ErrMalformedMeta is returned when a transaction lacks usable balance data.
var ErrMalformedMeta = errors.New("malformed transaction meta")

// TokenDelta is the pre/post token balance of one account, in UI units.
// A side missing from the transaction counts as zero.
type TokenDelta struct {
	AccountIndex int
	Address      string
	Mint         string
	Owner        string
	Pre          decimal.Decimal
	Post         decimal.Decimal
}

// Change returns the absolute balance change.
func (t TokenDelta) Change() decimal.Decimal {
	return t.Post.Sub(t.Pre).Abs()
}

// NativeDelta is the pre/post SOL balance of one account.
type NativeDelta struct {
	AccountIndex int
	Address      string
	Pre          decimal.Decimal
	Post         decimal.Decimal
}

// Change returns the absolute balance change.
func (n NativeDelta) Change() decimal.Decimal {
	return n.Post.Sub(n.Pre).Abs()
}

// Balances holds the balance snapshots extracted from one transaction.
type Balances struct {
	AccountKeys []string
	Tokens      []TokenDelta  // ordered by account index
	Native      []NativeDelta // one per account key
}

// Mints returns the distinct mints present in the transaction, sorted.
func (b *Balances) Mints() []string {
	seen := make(map[string]struct{}, len(b.Tokens))
	mints := make([]string, 0, len(b.Tokens))
	for _, t := range b.Tokens {
		if t.Mint == "" {
			continue
		}
		if _, ok := seen[t.Mint]; ok {
			continue
		}
		seen[t.Mint] = struct{}{}
		mints = append(mints, t.Mint)
	}
	sort.Strings(mints)
	return mints
}

// ExtractBalances builds per-account token and native balance deltas.
func ExtractBalances(tx *solana.Transaction) (*Balances, error) {
	if tx == nil || tx.Meta == nil {
		return nil, fmt.Errorf("%w: missing meta", ErrMalformedMeta)
	}
	meta := tx.Meta
	if len(meta.PreBalances) == 0 || len(meta.PreBalances) != len(meta.PostBalances) {
		return nil, fmt.Errorf("%w: native balances pre=%d post=%d",
			ErrMalformedMeta, len(meta.PreBalances), len(meta.PostBalances))
	}

	keys := tx.AccountKeys()
	b := &Balances{
		AccountKeys: keys,
		Native:      make([]NativeDelta, len(meta.PreBalances)),
	}

	for i := range meta.PreBalances {
		b.Native[i] = NativeDelta{
			AccountIndex: i,
			Address:      keyAt(keys, i),
			Pre:          lamportsToSOL(meta.PreBalances[i]),
			Post:         lamportsToSOL(meta.PostBalances[i]),
		}
	}

	byIndex := make(map[int]*TokenDelta)
	get := func(tb solana.TokenBalance) *TokenDelta {
		d, ok := byIndex[tb.AccountIndex]
		if !ok {
			d = &TokenDelta{
				AccountIndex: tb.AccountIndex,
				Address:      keyAt(keys, tb.AccountIndex),
				Pre:          decimal.Zero,
				Post:         decimal.Zero,
			}
			byIndex[tb.AccountIndex] = d
		}
		if tb.Mint != "" {
			d.Mint = tb.Mint
		}
		if tb.Owner != "" {
			d.Owner = tb.Owner
		}
		return d
	}

	for _, tb := range meta.PreTokenBalances {
		amount, err := uiAmount(tb.UITokenAmount)
		if err != nil {
			return nil, fmt.Errorf("pre token balance at index %d: %w", tb.AccountIndex, err)
		}
		get(tb).Pre = amount
	}
	for _, tb := range meta.PostTokenBalances {
		amount, err := uiAmount(tb.UITokenAmount)
		if err != nil {
			return nil, fmt.Errorf("post token balance at index %d: %w", tb.AccountIndex, err)
		}
		get(tb).Post = amount
	}

	b.Tokens = make([]TokenDelta, 0, len(byIndex))
	for _, d := range byIndex {
		b.Tokens = append(b.Tokens, *d)
	}
	sort.Slice(b.Tokens, func(i, j int) bool {
		return b.Tokens[i].AccountIndex < b.Tokens[j].AccountIndex
	})

	return b, nil
}

// uiAmount parses the decimal-adjusted amount, falling back to the raw
// integer amount shifted by decimals.
func uiAmount(a solana.UITokenAmount) (decimal.Decimal, error) {
	if a.UIAmountString != "" {
		d, err := decimal.NewFromString(a.UIAmountString)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: ui amount %q", ErrMalformedMeta, a.UIAmountString)
		}
		return d, nil
	}
	if a.Amount == "" {
		return decimal.Zero, nil
	}
	raw, err := decimal.NewFromString(a.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: raw amount %q", ErrMalformedMeta, a.Amount)
	}
	return raw.Shift(-int32(a.Decimals)), nil
}

func lamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromUint64(lamports).Shift(-lamportsPerSOLExp)
}

func keyAt(keys []string, i int) string {
	if i < 0 || i >= len(keys) {
		return ""
	}
	return keys[i]
}
