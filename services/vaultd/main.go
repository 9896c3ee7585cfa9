package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	vaultconfig "safevault/config"
	"safevault/core/events"
	"safevault/core/state"
	"safevault/native/bank"
	nativecommon "safevault/native/common"
	"safevault/native/vault"
	"safevault/observability"
	"safevault/observability/logging"
	telemetry "safevault/observability/otel"
	"safevault/services/vaultd/config"
	"safevault/services/vaultd/journal"
	"safevault/services/vaultd/middleware"
	"safevault/services/vaultd/rpc"
	"safevault/services/vaultd/server"
	"safevault/services/vaultd/stream"
	"safevault/storage"
)

func main() {
	var cfgPath, exportPath string
	flag.StringVar(&cfgPath, "config", "services/vaultd/config.yaml", "path to vaultd config")
	flag.StringVar(&exportPath, "export-journal", "", "write the event journal to this Parquet file and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("SAFEVAULT_ENV"))
	}
	logger, logCloser := logging.SetupWithFile("vaultd", env, logging.FileOptions{Path: cfg.LogFile})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "vaultd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := openStore(cfg.Storage)
	if err != nil {
		log.Fatalf("open %s store: %v", cfg.Storage.Backend, err)
	}
	mgr := state.NewManager(db)
	defer mgr.Close()

	journalDB, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	if sqlDB, err := journalDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	j, err := journal.New(journalDB, logger.With(slog.String("component", "journal")))
	if err != nil {
		log.Fatalf("init journal: %v", err)
	}
	if exportPath != "" {
		if err := j.Verify(context.Background()); err != nil {
			log.Fatalf("verify journal: %v", err)
		}
		rows, err := j.ExportParquet(context.Background(), exportPath)
		if err != nil {
			log.Fatalf("export journal: %v", err)
		}
		logger.Info("journal export complete", slog.String("path", exportPath), slog.Int("rows", rows))
		return
	}
	hub := stream.NewHub(0, logger.With(slog.String("component", "stream")))

	custody := bank.New()
	engine := vault.NewEngine(mgr, custody)
	engine.SetLogger(logger.With(slog.String("component", "vault")))
	engine.SetEmitter(events.Multi{j, hub})

	if cfg.GenesisPath != "" {
		g, err := vaultconfig.LoadGenesis(cfg.GenesisPath)
		if err != nil {
			log.Fatalf("load genesis: %v", err)
		}
		applied, err := applyGenesis(engine, mgr, custody, g)
		if err != nil {
			log.Fatalf("apply genesis: %v", err)
		}
		if applied {
			logger.Info("genesis applied", slog.Int("wallets", len(g.Wallets)))
		}
	}
	// Pauses apply after genesis so a paused deployment can still bootstrap.
	engine.SetPauses(nativecommon.NewStaticPauses(cfg.PausedModules...))

	metrics := observability.Vault()
	if ledger, err := engine.Ledger(); err == nil {
		metrics.SetTotals(ledger.TotalCollateral, ledger.TotalBorrowed)
	}

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		HMACSecret:  cfg.Auth.Secret(),
		Issuer:      cfg.Auth.Issuer,
		Audience:    cfg.Auth.Audience,
		ClockSkew:   cfg.Auth.ClockSkew,
		MaxTokenTTL: cfg.Auth.TokenTTL,
	}, logger)

	srv, err := server.New(server.Config{
		Engine:  engine,
		State:   mgr,
		Bank:    custody,
		Journal: j,
		Auth:    auth,
		Limiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			server.RateLimitKey: {
				RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
				Burst:             cfg.RateLimit.Burst,
			},
		}, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{LogRequests: true}, prometheus.DefaultRegisterer, logger),
		Metrics:       metrics,
		Gatherer:      prometheus.DefaultGatherer,
		Stream:        hub,
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if err := checkPlaintext(listener, cfg.TLS, env); err != nil {
		log.Fatal(err)
	}

	httpServer := &http.Server{
		Handler:           otelhttp.NewHandler(srv.Handler(), "vaultd"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.TLS.Enabled() {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var grpcServer *grpc.Server
	serverErr := make(chan error, 2)
	if cfg.GRPCListen != "" {
		grpcListener, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			log.Fatalf("listen on %s: %v", cfg.GRPCListen, err)
		}
		if err := checkPlaintext(grpcListener, cfg.TLS, env); err != nil {
			log.Fatal(err)
		}
		svc, err := rpc.New(rpc.Config{
			Engine:  engine,
			Auth:    auth,
			Metrics: metrics,
			Logger:  logger.With(slog.String("component", "rpc")),
		})
		if err != nil {
			log.Fatalf("build rpc service: %v", err)
		}
		var options []grpc.ServerOption
		if cfg.TLS.Enabled() {
			creds, err := credentials.NewServerTLSFromFile(cfg.TLS.CertPath, cfg.TLS.KeyPath)
			if err != nil {
				log.Fatalf("load grpc tls keypair: %v", err)
			}
			options = append(options, grpc.Creds(creds))
		}
		grpcServer = rpc.NewServer(svc, options...)
		go func() {
			logger.Info("vaultd grpc listening",
				slog.String("addr", cfg.GRPCListen),
				slog.Bool("tls", cfg.TLS.Enabled()))
			if err := grpcServer.Serve(grpcListener); err != nil {
				serverErr <- fmt.Errorf("serve grpc: %w", err)
			}
		}()
	}

	go func() {
		logger.Info("vaultd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.Bool("tls", cfg.TLS.Enabled()),
			slog.String("storage", cfg.Storage.Backend))
		if cfg.TLS.Enabled() {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if grpcServer != nil {
			stopGRPC(shutdownCtx, grpcServer, logger)
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", slog.String("error", err.Error()))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}
}

// checkPlaintext restricts listeners without TLS to loopback addresses or the
// dev environment.
func checkPlaintext(listener net.Listener, cfg config.TLSConfig, env string) error {
	if cfg.Enabled() {
		return nil
	}
	tcpAddr, _ := listener.Addr().(*net.TCPAddr)
	loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
	if !strings.EqualFold(env, "dev") && !loopback {
		return fmt.Errorf("plaintext vaultd mode is restricted to loopback listeners or dev environment")
	}
	return nil
}

func stopGRPC(ctx context.Context, gs *grpc.Server, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("forcing grpc server stop")
		gs.Stop()
	}
}

func openStore(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendLevelDB:
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.BackendBolt:
		db, err := storage.NewBoltDB(cfg.Path, nil)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return storage.NewMemDB(), nil
	}
}
