package solana

import "context"

// RPCClient defines the subset of the Solana JSON-RPC interface used by the detector.
type RPCClient interface {
	// GetTransaction retrieves a transaction by signature.
	// Returns nil, nil when the node does not know the transaction yet.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetBlockTime retrieves the estimated production time of a block.
	GetBlockTime(ctx context.Context, slot int64) (*int64, error)
}

// Commitment levels accepted by the RPC and pubsub endpoints.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction status and balance snapshots.
// Field tags follow the node's json encoding.
type TransactionMeta struct {
	Err               interface{}      `json:"err"`
	LogMessages       []string         `json:"logMessages"`
	PreBalances       []uint64         `json:"preBalances"` // lamports, indexed like AccountKeys
	PostBalances      []uint64         `json:"postBalances"`
	PreTokenBalances  []TokenBalance   `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance   `json:"postTokenBalances"`
	LoadedAddresses   *LoadedAddresses `json:"loadedAddresses"`
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string `json:"accountKeys"`
}

// LoadedAddresses are accounts pulled in through address lookup tables (v0 transactions).
type LoadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

// TokenBalance is an SPL token balance snapshot for one account.
type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

// UITokenAmount is the token amount as reported by the node.
type UITokenAmount struct {
	Amount         string `json:"amount"` // raw integer amount
	Decimals       uint8  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"` // decimal-adjusted amount
}

// AccountKeys returns the full account list of the transaction: static keys
// followed by loaded writable and readonly addresses. Token balance account
// indexes refer to this ordering.
func (tx *Transaction) AccountKeys() []string {
	if tx == nil || tx.Message == nil {
		return nil
	}
	keys := make([]string, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if tx.Meta != nil && tx.Meta.LoadedAddresses != nil {
		keys = append(keys, tx.Meta.LoadedAddresses.Writable...)
		keys = append(keys, tx.Meta.LoadedAddresses.Readonly...)
	}
	return keys
}
