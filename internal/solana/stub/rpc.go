package stub

import (
	"context"
	"sync"

	"swap-detector/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
// Unknown signatures are reported as not found (nil, nil).
type RPCClient struct {
	mu           sync.Mutex
	transactions map[string]*solana.Transaction
	errors       map[string]error
	blockTimes   map[int64]int64
	calls        map[string]int
	gate         chan struct{}
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		transactions: make(map[string]*solana.Transaction),
		errors:       make(map[string]error),
		blockTimes:   make(map[int64]int64),
		calls:        make(map[string]int),
	}
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	c.calls[signature]++
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.errors[signature]; ok {
		return nil, err
	}
	return c.transactions[signature], nil
}

// GetBlockTime returns the stored block time for a slot, or nil.
func (c *RPCClient) GetBlockTime(_ context.Context, slot int64) (*int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bt, ok := c.blockTimes[slot]
	if !ok {
		return nil, nil
	}
	return &bt, nil
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactions[tx.Signature] = tx
}

// FailTransaction makes GetTransaction return err for the signature.
func (c *RPCClient) FailTransaction(signature string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[signature] = err
}

// SetBlockTime registers a block time for a slot.
func (c *RPCClient) SetBlockTime(slot, blockTime int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockTimes[slot] = blockTime
}

// Hold blocks every GetTransaction until Release is called.
func (c *RPCClient) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = make(chan struct{})
}

// Release unblocks calls held by Hold.
func (c *RPCClient) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gate != nil {
		close(c.gate)
		c.gate = nil
	}
}

// Calls returns how many times a signature was fetched.
func (c *RPCClient) Calls(signature string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[signature]
}
