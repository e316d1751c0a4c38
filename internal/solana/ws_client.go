package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClientClosed is returned by operations on a closed WSClient.
var ErrClientClosed = errors.New("client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is the first wait after the socket drops. Later waits
	// double up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	// ReadTimeout must exceed PingInterval or idle links are torn down.
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	SubscribeTimeout time.Duration
	// BufferSize is the per-subscription notification buffer.
	BufferSize int
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		BufferSize:        10000,
	}
}

const handshakeTimeout = 10 * time.Second

// logSub is a client-side subscription. serverID changes on every
// resubscription; the local handle does not.
type logSub struct {
	filter   LogsFilter
	serverID int64
	ch       chan LogNotification
	done     chan struct{}
	stop     sync.Once
}

// subscribeResult answers a pending logsSubscribe.
type subscribeResult struct {
	serverID int64
	err      error
}

// pendingSub is a logsSubscribe awaiting its answer. bind runs on the read
// goroutine before any later notification is dispatched.
type pendingSub struct {
	answer chan subscribeResult
	bind   func(serverID int64)
}

// WSClient is a logsSubscribe client over one gorilla/websocket connection.
// A dropped socket is redialed in the background and every live
// subscription is re-established under its original handle.
type WSClient struct {
	endpoint string
	config   WSClientConfig
	log      *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64
	handleID  atomic.Uint64

	subs     map[uint64]*logSub
	byServer map[int64]uint64
	subsMu   sync.RWMutex

	pending   map[uint64]*pendingSub
	pendingMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

var _ LogSubscriber = (*WSClient)(nil)

// NewWSClient dials endpoint and starts the read and ping loops.
// A nil config uses DefaultWSConfig.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, logger *zap.Logger) (*WSClient, error) {
	def := DefaultWSConfig()
	cfg := def
	if config != nil {
		cfg = *config
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = def.SubscribeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		log:      logger.Named("ws"),
		subs:     make(map[uint64]*logSub),
		byServer: make(map[int64]uint64),
		pending:  make(map[uint64]*pendingSub),
		done:     make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})
	return conn, nil
}

func (c *WSClient) current() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// SubscribeLogs subscribes to program logs matching the filter.
func (c *WSClient) SubscribeLogs(ctx context.Context, filter LogsFilter) (*LogSubscription, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	sub := &logSub{
		filter: filter,
		ch:     make(chan LogNotification, c.config.BufferSize),
		done:   make(chan struct{}),
	}
	handle := c.handleID.Add(1)

	// abandoned is guarded by subsMu. An answer read after the caller gave
	// up must not register the handle.
	var abandoned bool
	_, err := c.subscribe(ctx, filter, func(serverID int64) {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if abandoned || c.closed.Load() {
			return
		}
		sub.serverID = serverID
		c.subs[handle] = sub
		c.byServer[serverID] = handle
	})
	if err != nil {
		c.subsMu.Lock()
		abandoned = true
		c.subsMu.Unlock()
		c.drop(handle)
		return nil, err
	}
	return &LogSubscription{ID: handle, C: sub.ch}, nil
}

// drop forgets a subscription bound by an answer its caller gave up on.
func (c *WSClient) drop(handle uint64) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	sub, ok := c.subs[handle]
	if !ok {
		return
	}
	delete(c.subs, handle)
	if c.byServer[sub.serverID] == handle {
		delete(c.byServer, sub.serverID)
	}
	close(sub.ch)
}

// Unsubscribe closes the subscription's channel and sends logsUnsubscribe.
// Only the local half is guaranteed; a failed write is returned but the
// handle is already gone.
func (c *WSClient) Unsubscribe(ctx context.Context, id uint64) error {
	c.subsMu.RLock()
	sub, ok := c.subs[id]
	c.subsMu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown subscription %d", id)
	}

	// A dispatcher blocked on a full buffer holds the read lock.
	sub.stop.Do(func() { close(sub.done) })

	c.subsMu.Lock()
	if _, ok := c.subs[id]; !ok {
		c.subsMu.Unlock()
		return nil
	}
	delete(c.subs, id)
	if c.byServer[sub.serverID] == id {
		delete(c.byServer, sub.serverID)
	}
	close(sub.ch)
	c.subsMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	err := c.send(wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "logsUnsubscribe",
		Params:  []interface{}{sub.serverID},
	})
	if err != nil {
		return fmt.Errorf("logsUnsubscribe %d: %w", sub.serverID, err)
	}
	return nil
}

// Close shuts the socket, closes every subscription channel and waits for
// the background loops.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		deadline := time.Now().Add(c.config.WriteTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	clear(c.byServer)
	c.subsMu.Unlock()

	c.pendingMu.Lock()
	for id, p := range c.pending {
		close(p.answer)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *WSClient) send(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *WSClient) reconnectPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.ReconnectDelay
	b.MaxInterval = c.config.MaxReconnectDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// pause waits d or until Close, reporting false on Close.
func (c *WSClient) pause(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.done:
		return false
	case <-t.C:
		return true
	}
}

const idlePoll = 100 * time.Millisecond

func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		conn := c.current()
		if conn == nil {
			if !c.pause(idlePoll) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if !c.reconnecting.Swap(true) {
				c.log.Warn("read failed, reconnecting", zap.Error(err))
				go c.reconnect(conn)
			}
			if !c.pause(idlePoll) {
				return
			}
			continue
		}

		c.handleMessage(message)
	}
}

// reconnect swaps out dead and redials on the reconnect policy until a
// dial succeeds or the client is closed, then resubscribes every live
// subscription.
func (c *WSClient) reconnect(dead *websocket.Conn) {
	defer c.reconnecting.Store(false)

	policy := c.reconnectPolicy()
	for attempt := 1; ; attempt++ {
		if !c.pause(policy.NextBackOff()) {
			return
		}

		c.connMu.Lock()
		if dead != nil && c.conn == dead {
			dead.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.log.Warn("redial failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		c.connMu.Lock()
		if c.closed.Load() {
			c.connMu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.connMu.Unlock()

		c.log.Info("reconnected", zap.Int("attempts", attempt))
		c.resubscribeAll()
		return
	}
}

func (c *WSClient) resubscribeAll() {
	c.subsMu.RLock()
	filters := make(map[uint64]LogsFilter, len(c.subs))
	for h, sub := range c.subs {
		filters[h] = sub.filter
	}
	c.subsMu.RUnlock()

	for handle, filter := range filters {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
		_, err := c.subscribe(ctx, filter, func(serverID int64) {
			c.subsMu.Lock()
			if sub, ok := c.subs[handle]; ok {
				if c.byServer[sub.serverID] == handle {
					delete(c.byServer, sub.serverID)
				}
				sub.serverID = serverID
				c.byServer[serverID] = handle
			}
			c.subsMu.Unlock()
		})
		cancel()
		if err != nil {
			c.log.Warn("resubscribe failed", zap.Uint64("handle", handle), zap.Error(err))
		}
	}
	c.log.Info("resubscribed", zap.Int("subscriptions", len(filters)))
}

// logsSubscribeParams builds the [filter, config] params of logsSubscribe.
// An empty mention list subscribes to all logs.
func logsSubscribeParams(filter LogsFilter) []interface{} {
	var which interface{} = "all"
	if len(filter.Mentions) > 0 {
		which = map[string][]string{"mentions": filter.Mentions}
	}
	commitment := filter.Commitment
	if commitment == "" {
		commitment = CommitmentConfirmed
	}
	return []interface{}{which, map[string]string{"commitment": commitment}}
}

// subscribe sends logsSubscribe and waits for the server subscription ID.
// bind, when set, is called with the ID as soon as the answer is read.
func (c *WSClient) subscribe(ctx context.Context, filter LogsFilter, bind func(serverID int64)) (int64, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}

	reqID := c.requestID.Add(1)
	answer := make(chan subscribeResult, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = &pendingSub{answer: answer, bind: bind}
	c.pendingMu.Unlock()

	forget := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	err := c.send(wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params:  logsSubscribeParams(filter),
	})
	if err != nil {
		forget()
		return 0, fmt.Errorf("logsSubscribe: %w", err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case res, ok := <-answer:
		if !ok {
			return 0, ErrClientClosed
		}
		return res.serverID, res.err
	case <-timer.C:
		forget()
		return 0, fmt.Errorf("logsSubscribe timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return 0, ErrClientClosed
	case <-ctx.Done():
		forget()
		return 0, ctx.Err()
	}
}

// answer delivers res to the logsSubscribe waiting on id, if any.
func (c *WSClient) answer(id uint64, res subscribeResult) bool {
	c.pendingMu.Lock()
	p, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()

	if !ok {
		return false
	}
	if res.err == nil && p.bind != nil {
		p.bind(res.serverID)
	}
	p.answer <- res
	return true
}

func (c *WSClient) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.log.Debug("undecodable message", zap.Error(err))
		return
	}

	switch {
	case env.Method == "logsNotification":
		var notif wsNotification
		if err := json.Unmarshal(message, &notif); err != nil || notif.Params == nil {
			c.log.Debug("malformed logsNotification", zap.Error(err))
			return
		}
		c.dispatch(notif.Params)

	case env.Error != nil:
		rpcErr := &rpcError{Code: env.Error.Code, Message: env.Error.Message}
		if env.ID == nil || !c.answer(*env.ID, subscribeResult{err: rpcErr}) {
			c.log.Warn("error response", zap.Error(rpcErr))
		}

	case env.ID != nil:
		// logsUnsubscribe answers true and is ignored here.
		var resp wsSubscribeResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			return
		}
		c.answer(resp.ID, subscribeResult{serverID: resp.Result})
	}
}

// dispatch hands a notification to its subscriber. The read lock is held
// while sending so Unsubscribe cannot close the channel underneath.
func (c *WSClient) dispatch(params *wsNotificationParams) {
	value := params.Result.Value
	n := LogNotification{
		Signature: value.Signature,
		Logs:      value.Logs,
		Err:       value.Err,
	}
	if params.Result.Context != nil {
		n.Slot = params.Result.Context.Slot
	}

	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	handle, ok := c.byServer[params.Subscription]
	if !ok {
		return
	}
	sub := c.subs[handle]

	select {
	case sub.ch <- n:
	case <-sub.done:
	case <-c.done:
	}
}

// pingLoop keeps idle links alive. Dead connections surface in readLoop.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if conn := c.current(); conn != nil {
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout))
			}
		}
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsEnvelope holds the fields that tell message kinds apart.
type wsEnvelope struct {
	ID     *uint64 `json:"id"`
	Method string  `json:"method"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
