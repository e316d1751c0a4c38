package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Defaults for NewHTTPClient.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second

	maxRetryDelay = 10 * time.Second
	maxErrorBody  = 512
)

// HTTPClient is an RPCClient over HTTP JSON-RPC 2.0 with retries on
// transport failures, 429 and 5xx.
type HTTPClient struct {
	endpoint   string
	client     *http.Client
	commitment string
	maxRetries int
	retryDelay time.Duration
	requestID  atomic.Uint64
	observe    func(method string, d time.Duration)
}

var _ RPCClient = (*HTTPClient)(nil)

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the first retry wait; later waits double.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithCommitment sets the commitment of getTransaction.
func WithCommitment(commitment string) ClientOption {
	return func(c *HTTPClient) {
		c.commitment = commitment
	}
}

// WithLatencyObserver registers a callback run after every call, retries
// included.
func WithLatencyObserver(fn func(method string, d time.Duration)) ClientOption {
	return func(c *HTTPClient) {
		c.observe = fn
	}
}

// NewHTTPClient creates a client for the JSON-RPC endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: DefaultTimeout},
		commitment: CommitmentConfirmed,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC error object. It is never retried.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// statusError is a non-200 HTTP answer.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Code == http.StatusTooManyRequests {
		return "rate limited (429)"
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (e *statusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

func (c *HTTPClient) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxInterval = maxRetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

// call runs method and decodes a non-null result into out.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if c.observe != nil {
		start := time.Now()
		defer func() { c.observe(method, time.Since(start)) }()
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	var (
		result  json.RawMessage
		retried bool
	)
	err = backoff.RetryNotify(func() error {
		var err error
		result, err = c.post(ctx, body)
		return err
	}, c.retryPolicy(ctx), func(error, time.Duration) { retried = true })

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case retried && isRetryable(err):
		return fmt.Errorf("%s: max retries exceeded: %w", method, err)
	default:
		return err
	}

	if out == nil || len(result) == 0 || string(result) == "null" {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// post sends one attempt. Errors that must not be retried are wrapped in
// backoff.Permanent.
func (c *HTTPClient) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		serr := &statusError{Code: resp.StatusCode, Body: string(raw)}
		if !serr.retryable() {
			return nil, backoff.Permanent(serr)
		}
		return nil, serr
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, backoff.Permanent(rpcResp.Error)
	}
	return rpcResp.Result, nil
}

func isRetryable(err error) bool {
	var rerr *rpcError
	if errors.As(err, &rerr) {
		return false
	}
	var serr *statusError
	if errors.As(err, &serr) {
		return serr.retryable()
	}
	return true
}

// getTransactionResult is the json-encoded getTransaction answer.
type getTransactionResult struct {
	Slot        int64            `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Meta        *TransactionMeta `json:"meta"`
	Transaction *struct {
		Message *TransactionMessage `json:"message"`
	} `json:"transaction"`
}

// GetTransaction fetches a transaction at the client's commitment, versioned
// transactions included. A transaction the node does not know yet yields
// nil, nil.
func (c *HTTPClient) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "json",
			"commitment":                     c.commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}

	var res *getTransactionResult
	if err := c.call(ctx, "getTransaction", params, &res); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	tx := &Transaction{
		Slot:      res.Slot,
		Signature: signature,
		Meta:      res.Meta,
	}
	if res.BlockTime != nil {
		tx.BlockTime = *res.BlockTime
	}
	if res.Transaction != nil {
		tx.Message = res.Transaction.Message
	}
	return tx, nil
}

// GetBlockTime returns the estimated production time of slot, or nil when
// the node has none.
func (c *HTTPClient) GetBlockTime(ctx context.Context, slot int64) (*int64, error) {
	var bt *int64
	if err := c.call(ctx, "getBlockTime", []interface{}{slot}, &bt); err != nil {
		return nil, err
	}
	return bt, nil
}
