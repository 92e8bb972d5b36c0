package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"

	"github.com/AlexandrePrevot/OrderParserProcessor/internal/cleanup"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/config"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/gateway"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/health"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/metrics"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/mgmt"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/relay"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/rpc"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/store"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/supervisor"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	outputRoot := cfg.ResolvedOutputRoot()
	logger.Info().
		Str("environment", cfg.Environment).
		Str("project_root", cfg.ProjectRoot).
		Str("output_root", outputRoot).
		Int("http_port", cfg.HTTPPort).
		Str("mgmt_addr", cfg.MgmtListenAddr).
		Str("alert_addr", cfg.AlertListenAddr).
		Msg("starting strategy runner")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	db, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open script catalog")
	}
	defer db.Close()

	// Process supervisor
	sup := supervisor.New(supervisor.Config{
		OutputRoot:  outputRoot,
		GracePeriod: cfg.ProcessGracePeriod,
	}, logger)
	sup.SetMetrics(m)
	sup.Audit().SetSink(db)

	// Notification relay
	hub := relay.NewHub(logger)
	hub.SetMetrics(m)

	coreConn, err := rpc.Dial(cfg.CoreAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create core client")
	}
	defer coreConn.Close()

	marketConn, err := rpc.Dial(cfg.MarketDataAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create market data client")
	}
	defer marketConn.Close()

	submitter := gateway.New(rpc.NewApiToCoreClient(coreConn), gateway.DefaultConfig(), logger)
	submitter.SetMetrics(m)

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("catalog", health.PingCheck(db.Ping))
	checker.Register("source_root", health.DirCheck(cfg.ResolvedSourceRoot()))
	checker.Register("core", health.ConnCheck(coreConn))
	checker.Register("market_data", health.ConnCheck(marketConn))

	// HTTP listener: observer websocket, probes and metrics
	mux := http.NewServeMux()
	mux.Handle("/ws", relay.NewHandler(ctx, hub, cfg.ObserverOriginList(), logger))
	mux.HandleFunc("/health", health.LivenessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.Handle("/metrics", m.Handler())

	httpSrv := &httpService{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grace:  cfg.ShutdownTimeout,
		logger: logger,
	}

	mgmtServer := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr: cfg.MgmtListenAddr,
		AuthConfig: mgmt.AuthConfig{
			Mode:      cfg.MgmtAuthMode,
			APIKey:    cfg.MgmtAPIKey,
			JWTSecret: cfg.MgmtJWTSecret,
		},
		RateLimit: mgmt.RateLimitConfig{
			RPS:   cfg.MgmtRateLimitRPS,
			Burst: cfg.MgmtRateLimitBurst,
		},
		CORSOrigins:     cfg.MgmtCORSOrigins,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, mgmt.Deps{
		Scripts:   db,
		Submitter: submitter,
		Processes: sup,
		Build: mgmt.BuildConfig{
			SourceRoot:    cfg.ResolvedSourceRoot(),
			GeneratedRoot: cfg.ResolvedGeneratedRoot(),
			OutputRoot:    outputRoot,
		},
		Checker: checker,
		Metrics: m,
	}, logger)

	cleaner := cleanup.NewCleaner(cleanup.Config{
		OutputRoot:    outputRoot,
		CheckInterval: cfg.CleanupInterval,
	}, db, logger)

	// Supervision tree
	root := suture.New("strategyd", suture.Spec{
		EventHook: sutureHook(logger),
		Timeout:   cfg.ShutdownTimeout,
	})
	relayLayer := suture.NewSimple("relay")
	relayLayer.Add(hub)
	relayLayer.Add(relay.NewAlertServer(cfg.AlertListenAddr, hub, logger))
	relayLayer.Add(relay.NewMarketFeed(rpc.NewMarketDataClient(marketConn), hub, logger))

	apiLayer := suture.NewSimple("api")
	apiLayer.Add(httpSrv)
	apiLayer.Add(mgmtServer)
	apiLayer.Add(cleaner)

	root.Add(relayLayer)
	root.Add(apiLayer)

	errCh := root.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down gracefully")
	case err := <-errCh:
		logger.Error().Err(err).Msg("supervision tree stopped")
		stop()
	}

	// Stop every strategy process before the tree finishes draining.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ProcessGracePeriod+cfg.ShutdownTimeout)
	defer cancel()
	sup.ShutdownAll(shutdownCtx)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("supervision tree exited with error")
		}
	case <-shutdownCtx.Done():
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("strategy runner stopped")
}

// httpService runs an http.Server as a suture service.
type httpService struct {
	server *http.Server
	grace  time.Duration
	logger zerolog.Logger
}

func (s *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	<-errCh
	return ctx.Err()
}

func (s *httpService) String() string { return "http-server" }

// sutureHook logs supervision tree events.
func sutureHook(logger zerolog.Logger) suture.EventHook {
	l := logger.With().Str("component", "suture").Logger()
	return func(e suture.Event) {
		l.Warn().Fields(e.Map()).Msg(e.String())
	}
}
