// Package main runs the swap detector: it subscribes to the aggregator's
// logs, classifies swaps of watched assets and delivers trades to the
// configured sinks, with an HTTP control API for the watch set.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swap-detector/internal/config"
	"swap-detector/internal/control"
	"swap-detector/internal/detector"
	"swap-detector/internal/domain"
	"swap-detector/internal/logger"
	"swap-detector/internal/observability"
	"swap-detector/internal/sink"
	"swap-detector/internal/solana"
	"swap-detector/internal/storage"
	chstore "swap-detector/internal/storage/clickhouse"
	"swap-detector/internal/storage/memory"
	"swap-detector/internal/storage/migrations"
	pgstore "swap-detector/internal/storage/postgres"
)

func main() {
	fs := pflag.NewFlagSet("detector", pflag.ExitOnError)
	config.RegisterFlags(fs)
	fs.Parse(os.Args[1:])

	path, _ := fs.GetString("config")
	cfg, err := config.Load(path, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, DevMode: cfg.Logging.DevMode})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("detector exited with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// stores holds the persistence backends selected by config.
type stores struct {
	trades storage.TradeEventStore // nil when storage is disabled
	watch  storage.WatchStore
	close  func()
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("", reg)

	st, err := openStores(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer st.close()

	rpc := solana.NewHTTPClient(cfg.Solana.RPCURL,
		solana.WithTimeout(cfg.Solana.RPCTimeout),
		solana.WithMaxRetries(cfg.Solana.MaxRetries),
		solana.WithCommitment(cfg.Solana.FetchCommitment),
		solana.WithLatencyObserver(metrics.ObserveRPC),
	)

	ws, err := solana.NewWSClient(ctx, cfg.Solana.WSURL, nil, log)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer ws.Close()

	det, err := detector.New(rpc, ws, detector.Config{
		ProgramID:        cfg.Solana.ProgramID,
		LogCommitment:    cfg.Solana.LogCommitment,
		VaultThreshold:   cfg.Detector.VaultThreshold,
		NativeDust:       cfg.Detector.NativeDust,
		CacheSize:        cfg.Detector.CacheSize,
		MaxInFlight:      cfg.Solana.MaxInFlight,
		HealthInterval:   cfg.Detector.HealthInterval,
		StaleAfter:       cfg.Detector.StaleAfter,
		ReconnectBackoff: cfg.Detector.ReconnectBackoff,
	}, detector.WithLogger(log), detector.WithMetrics(metrics))
	if err != nil {
		return err
	}

	fanout, err := buildSinks(cfg, st, log, metrics)
	if err != nil {
		return err
	}
	defer fanout.Close()

	det.OnTrade(fanout.Handle)
	det.OnConnected(func() { log.Info("connected") })
	det.OnDisconnected(func() { log.Info("disconnected") })
	det.OnConnectionStale(func(info domain.StaleInfo) {
		log.Warn("connection stale",
			zap.Float64("seconds_since_activity", info.SecondsSinceActivity),
			zap.Strings("assets", info.MonitoredAssets))
	})
	det.OnError(func(err error) { log.Error("detector error", zap.Error(err)) })
	det.OnHeartbeat(func(hb domain.Heartbeat) {
		if hb.Reason == domain.ReasonNoMatch {
			log.Debug("no match",
				zap.String("signature", hb.Signature),
				zap.Strings("expected", hb.Expected),
				zap.Strings("found", hb.Found))
		}
	})
	defer det.Close()

	if err := restoreWatchSet(ctx, det, st.watch, cfg.Detector.Assets, log); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: control.NewServer(det, st.watch, reg, log).WithTrades(st.trades).Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// restoreWatchSet starts every asset from the store and from config.
// Assets that fail to start stay watched; the error is logged, not fatal.
func restoreWatchSet(ctx context.Context, det *detector.Detector, ws storage.WatchStore, configured []string, log *zap.Logger) error {
	stored, err := ws.List(ctx)
	if err != nil {
		return fmt.Errorf("load watch set: %w", err)
	}

	for _, asset := range append(stored, configured...) {
		if _, err := solana.DecodePubkey(asset); err != nil {
			log.Warn("skipping invalid asset", zap.String("asset", asset), zap.Error(err))
			continue
		}
		if err := ws.Add(ctx, asset); err != nil {
			return fmt.Errorf("persist asset %s: %w", asset, err)
		}
		if err := det.Start(ctx, asset); err != nil {
			log.Warn("start asset failed", zap.String("asset", asset), zap.Error(err))
		}
	}

	log.Info("watch set restored", zap.Strings("assets", det.WatchedAssets()))
	return nil
}

func openStores(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (*stores, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		log.Info("storage ready", zap.String("driver", cfg.Driver))
		return &stores{
			trades: pgstore.NewTradeEventStore(pool),
			watch:  pgstore.NewWatchStore(pool),
			close:  pool.Close,
		}, nil

	case config.DriverClickHouse:
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN, log)
		if err != nil {
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		log.Info("storage ready", zap.String("driver", cfg.Driver))
		return &stores{
			trades: chstore.NewTradeEventStore(conn),
			watch:  memory.NewWatchStore(),
			close:  func() { conn.Close() },
		}, nil

	case config.DriverMemory:
		return &stores{
			trades: memory.NewTradeEventStore(),
			watch:  memory.NewWatchStore(),
			close:  func() {},
		}, nil

	default:
		return &stores{
			watch: memory.NewWatchStore(),
			close: func() {},
		}, nil
	}
}

func buildSinks(cfg *config.Config, st *stores, log *zap.Logger, metrics *observability.Metrics) (*sink.Fanout, error) {
	sinks := []sink.Sink{sink.NewLogSink(log)}

	if st.trades != nil {
		sinks = append(sinks, sink.NewStoreSink(cfg.Storage.Driver, st.trades))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		ks, err := sink.NewKafkaSink(sink.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Timeout: cfg.Kafka.Timeout,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ks)
	}

	fanout := sink.NewFanout(log, metrics, sinks...)
	log.Info("sinks ready", zap.Strings("sinks", fanout.Names()))
	return fanout, nil
}
