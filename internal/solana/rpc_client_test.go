package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClient_GetTransaction(t *testing.T) {
	var gotCommitment string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		if req.Method != "getTransaction" {
			t.Errorf("expected method getTransaction, got %s", req.Method)
		}
		if len(req.Params) == 2 {
			if opts, ok := req.Params[1].(map[string]interface{}); ok {
				gotCommitment, _ = opts["commitment"].(string)
			}
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"slot":      int64(123456),
				"blockTime": int64(1700000000),
				"meta": map[string]interface{}{
					"err":          nil,
					"logMessages":  []string{"Program log: Instruction: Route"},
					"preBalances":  []uint64{5000000000, 2039280},
					"postBalances": []uint64{3000000000, 2039280},
					"preTokenBalances": []map[string]interface{}{
						{
							"accountIndex": 1,
							"mint":         "MintAAA",
							"owner":        "addr1",
							"uiTokenAmount": map[string]interface{}{
								"amount":         "0",
								"decimals":       6,
								"uiAmountString": "0",
							},
						},
					},
					"postTokenBalances": []map[string]interface{}{
						{
							"accountIndex": 1,
							"mint":         "MintAAA",
							"owner":        "addr1",
							"uiTokenAmount": map[string]interface{}{
								"amount":         "50000000",
								"decimals":       6,
								"uiAmountString": "50",
							},
						},
					},
					"loadedAddresses": map[string]interface{}{
						"writable": []string{"lut1"},
						"readonly": []string{"lut2"},
					},
				},
				"transaction": map[string]interface{}{
					"message": map[string]interface{}{
						"accountKeys": []string{"addr1", "addr2"},
					},
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	tx, err := client.GetTransaction(ctx, "testsig123")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}

	if tx == nil {
		t.Fatal("expected transaction, got nil")
	}

	if gotCommitment != CommitmentConfirmed {
		t.Errorf("expected commitment %q, got %q", CommitmentConfirmed, gotCommitment)
	}

	if tx.Slot != 123456 {
		t.Errorf("expected slot 123456, got %d", tx.Slot)
	}

	if tx.BlockTime != 1700000000 {
		t.Errorf("expected blockTime 1700000000, got %d", tx.BlockTime)
	}

	if tx.Meta == nil {
		t.Fatal("expected meta, got nil")
	}

	if len(tx.Meta.PreBalances) != 2 || tx.Meta.PostBalances[0] != 3000000000 {
		t.Errorf("unexpected native balances: pre=%v post=%v", tx.Meta.PreBalances, tx.Meta.PostBalances)
	}

	if len(tx.Meta.PostTokenBalances) != 1 {
		t.Fatalf("expected 1 post token balance, got %d", len(tx.Meta.PostTokenBalances))
	}
	tb := tx.Meta.PostTokenBalances[0]
	if tb.AccountIndex != 1 || tb.Mint != "MintAAA" || tb.Owner != "addr1" {
		t.Errorf("unexpected token balance: %+v", tb)
	}
	if tb.UITokenAmount.UIAmountString != "50" || tb.UITokenAmount.Decimals != 6 {
		t.Errorf("unexpected ui amount: %+v", tb.UITokenAmount)
	}

	keys := tx.AccountKeys()
	want := []string{"addr1", "addr2", "lut1", "lut2"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d account keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("account key %d: expected %s, got %s", i, want[i], keys[i])
		}
	}
}

func TestHTTPClient_GetTransaction_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  nil,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	tx, err := client.GetTransaction(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}

	if tx != nil {
		t.Errorf("expected nil for not found, got %+v", tx)
	}
}

func TestHTTPClient_WithCommitment(t *testing.T) {
	var gotCommitment atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if opts, ok := req.Params[1].(map[string]interface{}); ok {
			gotCommitment.Store(opts["commitment"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": nil})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithCommitment(CommitmentFinalized))
	if _, err := client.GetTransaction(context.Background(), "sig"); err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}

	if got := gotCommitment.Load(); got != CommitmentFinalized {
		t.Errorf("expected commitment %q, got %v", CommitmentFinalized, got)
	}
}

func TestHTTPClient_GetBlockTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "getBlockTime" {
			t.Errorf("expected method getBlockTime, got %s", req.Method)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  int64(1700000123),
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	bt, err := client.GetBlockTime(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetBlockTime: %v", err)
	}
	if bt == nil || *bt != 1700000123 {
		t.Errorf("expected 1700000123, got %v", bt)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  int64(1700000000),
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	bt, err := client.GetBlockTime(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetBlockTime: %v", err)
	}
	if bt == nil || *bt != 1700000000 {
		t.Errorf("unexpected block time %v", bt)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RetryExhausted(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(2),
		WithRetryDelay(5*time.Millisecond),
	)

	_, err := client.GetTransaction(context.Background(), "sig")
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32602,
				"message": "Invalid params",
			},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(5*time.Millisecond))

	_, err := client.GetTransaction(context.Background(), "sig")
	if err == nil {
		t.Fatal("expected RPC error")
	}

	rpcErr, ok := err.(*rpcError)
	if !ok {
		t.Fatalf("expected *rpcError, got %T: %v", err, err)
	}
	if rpcErr.Code != -32602 {
		t.Errorf("expected code -32602, got %d", rpcErr.Code)
	}

	// RPC errors should not be retried
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt for RPC error, got %d", attempts.Load())
	}
}

func TestHTTPClient_LatencyObserver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": nil})
	}))
	defer server.Close()

	var observed []string
	client := NewHTTPClient(server.URL, WithLatencyObserver(func(method string, _ time.Duration) {
		observed = append(observed, method)
	}))

	client.GetTransaction(context.Background(), "sig")
	client.GetBlockTime(context.Background(), 7)

	if len(observed) != 2 || observed[0] != "getTransaction" || observed[1] != "getBlockTime" {
		t.Errorf("unexpected observed methods: %v", observed)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(10),
		WithRetryDelay(500*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.GetTransaction(ctx, "sig")
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("cancellation took too long: %v", time.Since(start))
	}
}

func TestHTTPClient_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(3), WithRetryDelay(5*time.Millisecond))

	_, err := client.GetBlockTime(context.Background(), 1)
	serr, ok := err.(*statusError)
	if !ok {
		t.Fatalf("expected *statusError, got %T: %v", err, err)
	}
	if serr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", serr.Code)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt for 4xx, got %d", attempts.Load())
	}
}

func TestHTTPClient_GetBlockTime_Null(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": nil})
	}))
	defer server.Close()

	bt, err := NewHTTPClient(server.URL).GetBlockTime(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetBlockTime: %v", err)
	}
	if bt != nil {
		t.Errorf("expected nil block time, got %d", *bt)
	}
}
