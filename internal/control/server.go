// Package control exposes the detector's command interface over HTTP.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"swap-detector/internal/domain"
	"swap-detector/internal/idhash"
	"swap-detector/internal/observability"
	"swap-detector/internal/solana"
	"swap-detector/internal/storage"
)

// Watcher is the command interface of the detector.
type Watcher interface {
	Start(ctx context.Context, assetID string) error
	StopAsset(assetID string)
	Stop()
	IsActive() bool
	WatchedAssets() []string
	IsWatching(assetID string) bool
	ProcessedCount() int
	LastActivity() time.Time
}

// Server serves the control API.
type Server struct {
	watcher Watcher
	store   storage.WatchStore // optional
	trades  storage.TradeEventStore
	gather  prometheus.Gatherer
	log     *zap.Logger
	started time.Time
}

// NewServer creates a control server. store may be nil, in which case watch
// set changes are not persisted.
func NewServer(w Watcher, store storage.WatchStore, gather prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		watcher: w,
		store:   store,
		gather:  gather,
		log:     log.Named("control"),
		started: time.Now(),
	}
}

// WithTrades enables the read-only trade routes backed by t.
func (s *Server) WithTrades(t storage.TradeEventStore) *Server {
	s.trades = t
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler(s.gather))
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("GET /watch", s.handleList)
	mux.HandleFunc("POST /watch/{asset}", s.handleWatch)
	mux.HandleFunc("DELETE /watch/{asset}", s.handleUnwatch)
	mux.HandleFunc("DELETE /watch", s.handleClear)

	mux.HandleFunc("GET /trades/{signature}", s.handleTradesBySignature)
	mux.HandleFunc("GET /assets/{asset}/trades", s.handleTradesByAsset)

	return mux
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status              string    `json:"status"`
	Active              bool      `json:"active"`
	WatchedAssets       []string  `json:"watched_assets"`
	ProcessedSignatures int       `json:"processed_signatures"`
	LastActivity        time.Time `json:"last_activity,omitempty"`
	Uptime              string    `json:"uptime"`
}

// WatchResponse is the JSON response for watch set commands.
type WatchResponse struct {
	Assets []string `json:"assets"`
	Active bool     `json:"active"`
	Error  string   `json:"error,omitempty"`
}

// TradeResponse is one recorded trade.
type TradeResponse struct {
	TradeID      string  `json:"trade_id"`
	AssetID      string  `json:"asset_id"`
	Side         string  `json:"side"`
	NativeAmount float64 `json:"native_amount"`
	AssetAmount  float64 `json:"asset_amount"`
	Price        float64 `json:"price"`
	UserID       string  `json:"user_id"`
	Signature    string  `json:"signature"`
	TimestampMs  int64   `json:"timestamp_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	assets := s.watcher.WatchedAssets()
	active := s.watcher.IsActive()

	status := "idle"
	switch {
	case active:
		status = "connected"
	case len(assets) > 0:
		status = "disconnected"
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:              status,
		Active:              active,
		WatchedAssets:       assets,
		ProcessedSignatures: s.watcher.ProcessedCount(),
		LastActivity:        s.watcher.LastActivity(),
		Uptime:              time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.watchResponse(""))
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	if _, err := solana.DecodePubkey(asset); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	err := s.watcher.Start(r.Context(), asset)
	if s.watcher.IsWatching(asset) {
		s.persist(r.Context(), "add", asset, func(ctx context.Context) error {
			return s.store.Add(ctx, asset)
		})
	}
	if err != nil {
		s.log.Warn("start failed", zap.String("asset", asset), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, s.watchResponse(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, s.watchResponse(""))
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	if !s.watcher.IsWatching(asset) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "asset not watched"})
		return
	}

	s.watcher.StopAsset(asset)
	s.persist(r.Context(), "remove", asset, func(ctx context.Context) error {
		return s.store.Remove(ctx, asset)
	})
	writeJSON(w, http.StatusOK, s.watchResponse(""))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.watcher.Stop()
	s.persist(r.Context(), "clear", "", func(ctx context.Context) error {
		return s.store.Clear(ctx)
	})
	writeJSON(w, http.StatusOK, s.watchResponse(""))
}

// persist applies a watch store change. Failures are logged; the detector's
// state is authoritative for the running process.
func (s *Server) persist(ctx context.Context, op, asset string, fn func(context.Context) error) {
	if s.store == nil {
		return
	}
	if err := fn(ctx); err != nil {
		s.log.Error("persist watch set failed", zap.String("op", op), zap.String("asset", asset), zap.Error(err))
	}
}

func (s *Server) watchResponse(errMsg string) WatchResponse {
	return WatchResponse{
		Assets: s.watcher.WatchedAssets(),
		Active: s.watcher.IsActive(),
		Error:  errMsg,
	}
}

func (s *Server) handleTradesBySignature(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "trade storage disabled"})
		return
	}
	events, err := s.trades.GetBySignature(r.Context(), r.PathValue("signature"))
	s.writeTrades(w, events, err)
}

// handleTradesByAsset serves ?from=&to= in Unix milliseconds. from defaults
// to 0 and to to now.
func (s *Server) handleTradesByAsset(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "trade storage disabled"})
		return
	}

	from, err := queryMillis(r, "from", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	to, err := queryMillis(r, "to", time.Now().UnixMilli())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if from > to {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "from is after to"})
		return
	}

	events, err := s.trades.GetByAssetTimeRange(r.Context(), r.PathValue("asset"), from, to)
	s.writeTrades(w, events, err)
}

func (s *Server) writeTrades(w http.ResponseWriter, events []*domain.TradeEvent, err error) {
	if err != nil {
		s.log.Error("query trades failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "query trades failed"})
		return
	}

	out := make([]TradeResponse, 0, len(events))
	for _, e := range events {
		out = append(out, TradeResponse{
			TradeID:      idhash.ComputeTradeID(e.Signature, e.AssetID),
			AssetID:      e.AssetID,
			Side:         e.Side().String(),
			NativeAmount: e.NativeAmount,
			AssetAmount:  e.AssetAmount,
			Price:        e.Price,
			UserID:       e.UserID,
			Signature:    e.Signature,
			TimestampMs:  e.TimestampMs(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func queryMillis(r *http.Request, key string, def int64) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, &paramError{key: key, value: v}
	}
	return ms, nil
}

type paramError struct{ key, value string }

func (e *paramError) Error() string {
	return "invalid " + e.key + ": " + strconv.Quote(e.value)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
