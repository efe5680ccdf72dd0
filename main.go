package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/spooky-finn/go-orderbook-aggregator/bus"
	"github.com/spooky-finn/go-orderbook-aggregator/config"
	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/infrastructure/prometheus"
	"github.com/spooky-finn/go-orderbook-aggregator/ingress"
	"github.com/spooky-finn/go-orderbook-aggregator/mirror"
	"github.com/spooky-finn/go-orderbook-aggregator/provider"
	"github.com/spooky-finn/go-orderbook-aggregator/server"
	"github.com/spooky-finn/go-orderbook-aggregator/telemetry"
	"github.com/spooky-finn/go-orderbook-aggregator/usecase"

	_ "github.com/spooky-finn/go-orderbook-aggregator/provider/binance"
	_ "github.com/spooky-finn/go-orderbook-aggregator/provider/bybit"
	_ "github.com/spooky-finn/go-orderbook-aggregator/provider/coinbase"
	_ "github.com/spooky-finn/go-orderbook-aggregator/provider/kraken"
	_ "github.com/spooky-finn/go-orderbook-aggregator/provider/kucoin"
)

func main() {
	godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	adapters, err := provider.Resolve(cfg.Venues, cfg.Symbols)
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting order book aggregator",
		zap.Strings("venues", cfg.Venues),
		zap.Strings("symbols", cfg.Symbols))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := domain.NewBookStore(cfg.DepthMax, cfg.TrimGrowthFactor, cfg.DisplayDepth)
	msgBus := bus.New[domain.Message](cfg.BroadcastCapacity)
	tel := telemetry.NewCollector(cfg.Symbols, cfg.LatencyRingSize)

	var wg sync.WaitGroup

	orchestrator := ingress.NewOrchestrator(adapters, cfg.Symbols, store, msgBus, tel, ingress.Config{
		SnapshotDepth:    cfg.SnapshotDepth,
		DisplayDepth:     cfg.DisplayDepth,
		ReconnectBackoff: cfg.ReconnectBackoff,
		ReadIdleTimeout:  cfg.ReadIdleTimeout,
	}, log.Named("ingress"))
	orchestrator.Start(ctx, &wg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		tel.Run(ctx, cfg.MetricsInterval, func(snap *telemetry.Snapshot) {
			msgBus.Publish(domain.NewMetricsMessage(snap))
		})
	}()

	if cfg.PromAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			promclient.Serve(ctx, cfg.PromAddr, tel, log.Named("prometheus"))
		}()
	}

	if cfg.RedisAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mirror.New(cfg.RedisAddr, msgBus, log.Named("mirror")).Run(ctx)
		}()
	}

	bootstrap := usecase.NewBootstrap(store, tel, cfg.Symbols, cfg.DisplayDepth)
	srv := server.New(server.Config{
		ListenAddr:        cfg.ListenAddr,
		EgressThrottle:    cfg.EgressThrottle,
		HeartbeatInterval: cfg.HeartbeatInterval,
		WriteTimeout:      cfg.WriteTimeout,
	}, msgBus, bootstrap, tel, log.Named("server"))

	if err := srv.Run(ctx); err != nil {
		log.Fatal("egress server failed", zap.Error(err))
	}

	stop()
	wg.Wait()
	log.Info("shutdown complete")
}
