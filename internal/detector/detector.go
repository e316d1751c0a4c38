// Package detector watches an aggregator's on-chain logs and turns the
// transactions that move a watched asset against SOL into trade events.
package detector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swap-detector/internal/domain"
	"swap-detector/internal/observability"
	"swap-detector/internal/solana"
)

// JupiterProgramID is the aggregator program whose logs are subscribed to.
const JupiterProgramID = "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"

// Detector errors.
var (
	ErrEmptyAsset    = errors.New("empty asset id")
	ErrNoSubscriber  = errors.New("log subscriber is required")
	ErrNoRPCClient   = errors.New("rpc client is required")
	ErrDetectorClose = errors.New("detector closed")
)

// Config holds detector parameters.
type Config struct {
	ProgramID        string
	LogCommitment    string
	VaultThreshold   float64
	NativeDust       float64
	CacheSize        int
	MaxInFlight      int
	HealthInterval   time.Duration
	StaleAfter       time.Duration
	ReconnectBackoff time.Duration
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		ProgramID:        JupiterProgramID,
		LogCommitment:    solana.CommitmentProcessed,
		VaultThreshold:   DefaultVaultThreshold,
		NativeDust:       DefaultNativeDust,
		CacheSize:        DefaultCacheSize,
		MaxInFlight:      16,
		HealthInterval:   30 * time.Second,
		StaleAfter:       120 * time.Second,
		ReconnectBackoff: 2 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ProgramID == "" {
		c.ProgramID = def.ProgramID
	}
	if c.LogCommitment == "" {
		c.LogCommitment = def.LogCommitment
	}
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = def.MaxInFlight
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = def.HealthInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = def.ReconnectBackoff
	}
	return c
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics sets the metrics sink. Nil disables metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Detector) {
		d.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// Detector owns the log subscription, the watch set and the processed
// signature cache. All methods are safe for concurrent use.
type Detector struct {
	cfg        Config
	rpc        solana.RPCClient
	logs       solana.LogSubscriber
	classifier *Classifier
	log        *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	// ctx lives until Close; fetches and reconnects derive from it.
	ctx    context.Context
	cancel context.CancelFunc

	// lifecycle serializes commands that open or tear down the subscription.
	lifecycle sync.Mutex
	epoch     uint64 // bumped by explicit Stop and StopAsset teardowns

	mu           sync.Mutex
	watch        map[string]string // lower-cased key -> original spelling
	sub          *solana.LogSubscription
	subStop      chan struct{}
	streamLost   bool
	lastActivity time.Time
	processed    *SignatureCache
	inFlight     map[string]struct{}

	readers sync.WaitGroup
	fetches errgroup.Group

	handlersMu     sync.RWMutex
	onConnected    []func()
	onDisconnected []func()
	onTrade        []func(domain.TradeEvent)
	onHeartbeat    []func(domain.Heartbeat)
	onStale        []func(domain.StaleInfo)
	onError        []func(error)
}

// New creates a detector. The subscription is not opened until Start.
func New(rpc solana.RPCClient, logs solana.LogSubscriber, cfg Config, opts ...Option) (*Detector, error) {
	if rpc == nil {
		return nil, ErrNoRPCClient
	}
	if logs == nil {
		return nil, ErrNoSubscriber
	}

	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &Detector{
		cfg:        cfg,
		rpc:        rpc,
		logs:       logs,
		classifier: NewClassifier(cfg.VaultThreshold, cfg.NativeDust),
		log:        zap.NewNop(),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		watch:      make(map[string]string),
		processed:  NewSignatureCache(cfg.CacheSize),
		inFlight:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.Named("detector")
	d.fetches.SetLimit(cfg.MaxInFlight)
	return d, nil
}

// Start adds an asset to the watch set and opens the subscription if it is
// not active. Starting an already watched asset is a no-op.
// If the subscription cannot be opened the asset stays watched, an error
// event is emitted and the error is returned.
func (d *Detector) Start(ctx context.Context, assetID string) error {
	asset := strings.TrimSpace(assetID)
	if asset == "" {
		return ErrEmptyAsset
	}

	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if d.ctx.Err() != nil {
		return ErrDetectorClose
	}

	d.mu.Lock()
	key := strings.ToLower(asset)
	if _, ok := d.watch[key]; !ok {
		d.watch[key] = asset
		d.log.Info("watching asset", zap.String("asset", asset))
	}
	n := len(d.watch)
	active := d.sub != nil
	d.mu.Unlock()
	d.metrics.SetWatchedAssets(n)

	if active {
		return nil
	}
	return d.openLocked(ctx)
}

// StopAsset removes an asset from the watch set. The subscription is torn
// down when the last asset is removed.
func (d *Detector) StopAsset(assetID string) {
	key := strings.ToLower(strings.TrimSpace(assetID))

	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	if orig, ok := d.watch[key]; ok {
		delete(d.watch, key)
		d.log.Info("stopped watching asset", zap.String("asset", orig))
	}
	n := len(d.watch)
	active := d.sub != nil
	d.mu.Unlock()
	d.metrics.SetWatchedAssets(n)

	if n == 0 && active {
		d.epoch++
		d.teardownLocked()
		d.emitDisconnected()
	}
}

// Stop tears down the subscription and clears the watch set.
func (d *Detector) Stop() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.epoch++
	d.stopLocked()
}

// Close stops the detector and waits for in-flight fetches.
// The detector cannot be restarted after Close.
func (d *Detector) Close() error {
	d.cancel()
	d.Stop()
	d.readers.Wait()
	return d.fetches.Wait()
}

// IsActive reports whether the subscription is open.
func (d *Detector) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sub != nil
}

// WatchedAssets returns the watched assets in their original spelling, sorted.
func (d *Detector) WatchedAssets() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watchedLocked()
}

// IsWatching reports whether the asset is watched, ignoring case.
func (d *Detector) IsWatching(assetID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.watch[strings.ToLower(strings.TrimSpace(assetID))]
	return ok
}

// ProcessedCount returns the number of signatures in the processed cache.
func (d *Detector) ProcessedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processed.Len()
}

// LastActivity returns the time the subscription last delivered anything.
func (d *Detector) LastActivity() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActivity
}

func (d *Detector) watchedLocked() []string {
	assets := make([]string, 0, len(d.watch))
	for _, a := range d.watch {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets
}

// openLocked opens the subscription. Caller holds lifecycle.
func (d *Detector) openLocked(ctx context.Context) error {
	sub, err := d.logs.SubscribeLogs(ctx, solana.LogsFilter{
		Mentions:   []string{d.cfg.ProgramID},
		Commitment: d.cfg.LogCommitment,
	})
	if err != nil {
		err = fmt.Errorf("subscribe logs: %w", err)
		d.log.Error("open subscription failed", zap.Error(err))
		d.emitError(err)
		return err
	}

	stop := make(chan struct{})
	d.mu.Lock()
	d.sub = sub
	d.subStop = stop
	d.streamLost = false
	d.lastActivity = d.now()
	d.mu.Unlock()

	d.readers.Add(1)
	go d.readLoop(sub, stop)
	go d.monitor(stop)

	d.log.Info("subscription opened",
		zap.Uint64("subscription", sub.ID),
		zap.String("program", d.cfg.ProgramID),
		zap.String("commitment", d.cfg.LogCommitment))
	d.emitConnected()
	return nil
}

// teardownLocked closes the subscription if one is open. Caller holds lifecycle.
func (d *Detector) teardownLocked() {
	d.mu.Lock()
	sub, stop := d.sub, d.subStop
	d.sub, d.subStop = nil, nil
	d.streamLost = false
	d.mu.Unlock()

	if sub == nil {
		return
	}
	close(stop)

	// Unsubscribe must not be cancelled by an expiring caller context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.logs.Unsubscribe(ctx, sub.ID); err != nil {
		d.log.Warn("unsubscribe failed", zap.Uint64("subscription", sub.ID), zap.Error(err))
	}
	d.log.Info("subscription closed", zap.Uint64("subscription", sub.ID))
}

// stopLocked tears down the subscription and clears the watch set.
// Caller holds lifecycle.
func (d *Detector) stopLocked() {
	d.teardownLocked()

	d.mu.Lock()
	d.watch = make(map[string]string)
	d.mu.Unlock()
	d.metrics.SetWatchedAssets(0)

	d.emitDisconnected()
}

// readLoop drains one subscription until it is stopped or its channel closes.
func (d *Detector) readLoop(sub *solana.LogSubscription, stop <-chan struct{}) {
	defer d.readers.Done()
	for {
		select {
		case <-stop:
			return
		case n, ok := <-sub.C:
			if !ok {
				d.mu.Lock()
				if d.sub == sub {
					d.streamLost = true
				}
				d.mu.Unlock()
				d.log.Warn("log stream closed", zap.Uint64("subscription", sub.ID))
				return
			}
			d.handleNotification(n)
		}
	}
}
