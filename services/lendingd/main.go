package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	nativecommon "defiledger/native/common"
	"defiledger/observability/logging"
	telemetry "defiledger/observability/otel"
	"defiledger/services/lendingd/config"
	"defiledger/services/lendingd/oracle"
	"defiledger/services/lendingd/orchestrator"
	"defiledger/services/lendingd/server"
	"defiledger/services/lendingd/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDINGD_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser := logging.Setup("lendingd", env,
		logging.WithLevel(logging.ParseLevel(cfg.Log.Level)),
		logging.WithFile(logging.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   true,
		}),
	)
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("lendingd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Database)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer store.Close()

	book := oracle.NewPriceBook(cfg.Oracle.MaxAge.Duration, oracle.WithRecorder(store))
	latest, err := store.LatestPrices(ctx)
	if err != nil {
		log.Fatalf("restore prices: %v", err)
	}
	book.Restore(latest)
	seeds, err := cfg.SeedPrices()
	if err != nil {
		log.Fatalf("seed prices: %v", err)
	}
	for _, seed := range seeds {
		if _, err := book.Quote(seed.Symbol); err == nil {
			continue
		}
		if _, err := book.Set(ctx, seed.Symbol, seed.Price, time.Time{}); err != nil {
			log.Fatalf("seed price %s: %v", seed.Symbol, err)
		}
	}

	reserveFactor, err := cfg.DefaultReserveFactor()
	if err != nil {
		log.Fatalf("reserve factor: %v", err)
	}
	pauses := nativecommon.NewPauseSet(cfg.Pauses...)
	ledger := orchestrator.New(store, book,
		orchestrator.WithLogger(logger),
		orchestrator.WithPauses(pauses),
		orchestrator.WithDefaultReserveFactor(reserveFactor),
	)

	if cfg.Catalog != "" {
		catalog, err := config.LoadCatalog(cfg.Catalog, reserveFactor)
		if err != nil {
			log.Fatalf("load catalog: %v", err)
		}
		if _, err := ledger.Bootstrap(ctx, catalog.MarketParams(reserveFactor), catalog.PoolParams()); err != nil {
			log.Fatalf("bootstrap catalog: %v", err)
		}
	}

	auth, err := server.NewAuthenticator(cfg.Admin.BearerToken)
	if err != nil {
		log.Fatalf("configure admin auth: %v", err)
	}
	logger.Info("admin auth configured", logging.MaskField("bearer_token", cfg.Admin.BearerToken))

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		TLS: server.TLSConfig{
			CertFile: cfg.TLS.CertPath,
			KeyFile:  cfg.TLS.KeyPath,
			Config:   &tls.Config{MinVersion: tls.VersionTLS12},
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
	}, server.Deps{Ledger: ledger, Prices: book, Pauses: pauses, Health: store}, auth, logger)
	if err != nil {
		log.Fatalf("configure server: %v", err)
	}

	if err := srv.Serve(ctx, listener); err != nil {
		log.Fatalf("serve http: %v", err)
	}
	logger.Info("shutdown complete")
}
