package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// idleServer accepts a connection and discards everything it reads.
func idleServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

// subscribingServer confirms every logsSubscribe with serverID, pushes one
// notification after the first confirmation and forwards every other request
// to requests.
func subscribingServer(t *testing.T, serverID int64, requests chan<- wsRequest) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		notified := false
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var req wsRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				t.Errorf("unmarshal request: %v", err)
				return
			}

			if requests != nil {
				select {
				case requests <- req:
				default:
				}
			}

			if req.Method != "logsSubscribe" {
				continue
			}

			if err := c.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: serverID}); err != nil {
				return
			}

			if notified {
				continue
			}
			notified = true

			time.Sleep(50 * time.Millisecond)
			notif := wsNotification{
				JSONRPC: "2.0",
				Method:  "logsNotification",
				Params: &wsNotificationParams{
					Subscription: serverID,
					Result: wsNotificationResult{
						Context: &wsContext{Slot: 100},
						Value: wsLogsValue{
							Signature: "testsig",
							Logs:      []string{"Program log: Instruction: Route"},
						},
					},
				},
			}
			if err := c.WriteJSON(notif); err != nil {
				return
			}
		}
	}))
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

// flappingServer confirms the first logsSubscribe with subscription 1 and
// then drops the socket. The next failRedials upgrades are refused with 503.
// Every later connection confirms with subscription 2 and pushes one
// notification for it. dials counts upgrade attempts.
func flappingServer(t *testing.T, failRedials int32, dials *atomic.Int32) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		if n > 1 && n <= 1+failRedials {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req wsRequest
			if err := json.Unmarshal(msg, &req); err != nil || req.Method != "logsSubscribe" {
				continue
			}

			if n == 1 {
				c.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: 1})
				return
			}

			if err := c.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: 2}); err != nil {
				return
			}
			notif := wsNotification{
				JSONRPC: "2.0",
				Method:  "logsNotification",
				Params: &wsNotificationParams{
					Subscription: 2,
					Result: wsNotificationResult{
						Context: &wsContext{Slot: 200},
						Value:   wsLogsValue{Signature: "after-reconnect"},
					},
				},
			}
			if err := c.WriteJSON(notif); err != nil {
				return
			}
		}
	}))
	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

func fastReconnectConfig() *WSClientConfig {
	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.MaxReconnectDelay = 100 * time.Millisecond
	cfg.SubscribeTimeout = 2 * time.Second
	return &cfg
}

// waitClosed drains ch until it is closed.
func waitClosed(t *testing.T, ch <-chan LogNotification) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel not closed")
		}
	}
}

func TestWSClient_Connect(t *testing.T) {
	server, wsURL := idleServer(t)
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL, nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.closed.Load() {
		t.Error("client should not be closed")
	}
}

func TestWSClient_SubscribeLogs(t *testing.T) {
	requests := make(chan wsRequest, 4)
	server, wsURL := subscribingServer(t, 12345, requests)
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	sub, err := client.SubscribeLogs(ctx, LogsFilter{
		Mentions:   []string{"testprogram"},
		Commitment: CommitmentProcessed,
	})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	select {
	case req := <-requests:
		if req.Method != "logsSubscribe" {
			t.Errorf("expected logsSubscribe, got %s", req.Method)
		}
		if len(req.Params) != 2 {
			t.Fatalf("expected 2 params, got %d", len(req.Params))
		}
		opts, _ := req.Params[1].(map[string]interface{})
		if opts["commitment"] != CommitmentProcessed {
			t.Errorf("expected commitment processed, got %v", opts["commitment"])
		}
		mentions, _ := req.Params[0].(map[string]interface{})
		if list, _ := mentions["mentions"].([]interface{}); len(list) != 1 || list[0] != "testprogram" {
			t.Errorf("unexpected mentions filter: %v", mentions)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for subscribe request")
	}

	select {
	case notif := <-sub.C:
		if notif.Signature != "testsig" {
			t.Errorf("expected testsig, got %s", notif.Signature)
		}
		if len(notif.Logs) != 1 {
			t.Errorf("expected 1 log, got %d", len(notif.Logs))
		}
		if notif.Slot != 100 {
			t.Errorf("expected slot 100, got %d", notif.Slot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestWSClient_Unsubscribe(t *testing.T) {
	requests := make(chan wsRequest, 4)
	server, wsURL := subscribingServer(t, 777, requests)
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	sub, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"p"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}
	<-requests // logsSubscribe

	if err := client.Unsubscribe(ctx, sub.ID); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	select {
	case req := <-requests:
		if req.Method != "logsUnsubscribe" {
			t.Errorf("expected logsUnsubscribe, got %s", req.Method)
		}
		if len(req.Params) != 1 || req.Params[0] != float64(777) {
			t.Errorf("expected server id 777, got %v", req.Params)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for unsubscribe request")
	}

	waitClosed(t, sub.C)

	if err := client.Unsubscribe(ctx, sub.ID); err == nil {
		t.Error("expected error for unknown subscription")
	}
}

func TestWSClient_Close(t *testing.T) {
	server, wsURL := idleServer(t)
	defer server.Close()

	client, err := NewWSClient(context.Background(), wsURL, nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	err = client.Close()
	if err != nil {
		t.Errorf("Close: %v", err)
	}

	if !client.closed.Load() {
		t.Error("client should be closed")
	}

	// Double close should be safe
	err = client.Close()
	if err != nil {
		t.Errorf("double Close: %v", err)
	}
}

func TestWSClient_CloseClosesSubscriptions(t *testing.T) {
	server, wsURL := subscribingServer(t, 5, nil)
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	sub, err := client.SubscribeLogs(ctx, LogsFilter{})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	client.Close()

	waitClosed(t, sub.C)
}

func TestWSClient_SubscribeAfterClose(t *testing.T) {
	server, wsURL := idleServer(t)
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	client.Close()

	_, err = client.SubscribeLogs(ctx, LogsFilter{})
	if err != ErrClientClosed {
		t.Errorf("expected ErrClientClosed, got %v", err)
	}
}

func TestWSClient_SubscribeTimeout(t *testing.T) {
	server, wsURL := idleServer(t)
	defer server.Close()

	config := &WSClientConfig{
		ReconnectDelay:    100 * time.Millisecond,
		MaxReconnectDelay: time.Second,
		PingInterval:      5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		SubscribeTimeout:  100 * time.Millisecond,
	}

	client, err := NewWSClient(context.Background(), wsURL, config, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	_, err = client.SubscribeLogs(context.Background(), LogsFilter{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestWSClient_CustomConfig(t *testing.T) {
	server, wsURL := idleServer(t)
	defer server.Close()

	config := &WSClientConfig{
		ReconnectDelay:    100 * time.Millisecond,
		MaxReconnectDelay: 1 * time.Second,
		PingInterval:      5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}

	client, err := NewWSClient(context.Background(), wsURL, config, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.config.PingInterval != 5*time.Second {
		t.Errorf("expected PingInterval 5s, got %v", client.config.PingInterval)
	}
	if client.config.BufferSize != DefaultWSConfig().BufferSize {
		t.Errorf("expected default buffer size, got %d", client.config.BufferSize)
	}
}

func TestWSClient_SubscribeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			var req wsRequest
			if err := c.ReadJSON(&req); err != nil {
				return
			}
			c.WriteJSON(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]interface{}{"code": -32602, "message": "Invalid param: not a valid pubkey"},
			})
		}
	}))
	defer server.Close()

	client, err := NewWSClient(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"), nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	start := time.Now()
	_, err = client.SubscribeLogs(context.Background(), LogsFilter{Mentions: []string{"bad"}})
	rpcErr, ok := err.(*rpcError)
	if !ok {
		t.Fatalf("expected *rpcError, got %T: %v", err, err)
	}
	if rpcErr.Code != -32602 {
		t.Errorf("expected code -32602, got %d", rpcErr.Code)
	}
	if time.Since(start) > time.Second {
		t.Errorf("rejection should not wait for the subscribe timeout")
	}
}

func TestLogsSubscribeParams(t *testing.T) {
	params := logsSubscribeParams(LogsFilter{})
	if params[0] != "all" {
		t.Errorf("expected all filter, got %v", params[0])
	}
	if cfg, _ := params[1].(map[string]string); cfg["commitment"] != CommitmentConfirmed {
		t.Errorf("expected default commitment confirmed, got %v", params[1])
	}

	params = logsSubscribeParams(LogsFilter{Mentions: []string{"p"}, Commitment: CommitmentProcessed})
	if m, _ := params[0].(map[string][]string); len(m["mentions"]) != 1 {
		t.Errorf("unexpected mentions filter: %v", params[0])
	}
}

func TestWSClient_ReconnectKeepsSubscription(t *testing.T) {
	var dials atomic.Int32
	server, wsURL := flappingServer(t, 0, &dials)
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, fastReconnectConfig(), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	sub, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"prog"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	select {
	case notif, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed across reconnect")
		}
		if notif.Signature != "after-reconnect" {
			t.Errorf("expected after-reconnect, got %s", notif.Signature)
		}
		if notif.Slot != 200 {
			t.Errorf("expected slot 200, got %d", notif.Slot)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no notification after reconnect (dials: %d)", dials.Load())
	}

	client.subsMu.Lock()
	handle, ok := client.byServer[2]
	_, stale := client.byServer[1]
	client.subsMu.Unlock()
	if !ok || handle != sub.ID {
		t.Errorf("server subscription 2 not mapped to handle %d", sub.ID)
	}
	if stale {
		t.Error("server subscription 1 still mapped after reconnect")
	}
}

func TestWSClient_ReconnectRetriesFailedRedial(t *testing.T) {
	var dials atomic.Int32
	server, wsURL := flappingServer(t, 2, &dials)
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, fastReconnectConfig(), nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	sub, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"prog"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	select {
	case notif, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed across reconnect")
		}
		if notif.Signature != "after-reconnect" {
			t.Errorf("expected after-reconnect, got %s", notif.Signature)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no notification after refused redials (dials: %d)", dials.Load())
	}

	if got := dials.Load(); got < 4 {
		t.Errorf("expected at least 4 dials, got %d", got)
	}
	if client.current() == nil {
		t.Error("connection not restored")
	}
}
