package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/johanake/voxera/internal/api"
	"github.com/johanake/voxera/internal/api/middleware"
	"github.com/johanake/voxera/internal/call"
	"github.com/johanake/voxera/internal/carrier"
	"github.com/johanake/voxera/internal/config"
	"github.com/johanake/voxera/internal/database"
	"github.com/johanake/voxera/internal/metrics"
	"github.com/johanake/voxera/internal/pstn"
	"github.com/johanake/voxera/internal/routing"
	"github.com/johanake/voxera/internal/signaling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting voxera",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"tls", cfg.TLSEnabled(),
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	users := database.NewUserRepository(db)
	numbers := database.NewPhoneNumberRepository(db)
	flows := database.NewCallFlowRepository(db)
	history := database.NewCallHistoryRepository(db)
	sysConfig := database.NewSystemConfigRepository(db)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Live state: presence directory, extension bindings and the call
	// session registry.
	presence := call.NewPresence()
	extensions := call.NewExtensions()
	registry := call.NewRegistry(call.NewMemoryStore(), presence, logger)

	// Session store for admin auth.
	sessions := middleware.NewSessionStore()
	middleware.StartCleanupTicker(appCtx, sessions, 15*time.Minute)

	// Client JWT issuance and verification, shared between the REST login
	// and the websocket handshake.
	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}
	clientTokens := middleware.NewClientTokens(jwtSecret)

	// Carrier credentials: values stored through the settings API take
	// precedence over flags and environment.
	carrierClient := newCarrierClient(appCtx, cfg, sysConfig, logger)

	// Signaling router and websocket endpoint.
	router := signaling.NewRouter(registry, presence, extensions, history, carrierClient, logger)
	wsHandler := signaling.NewHandler(router, clientTokens, originChecker(cfg.CORSOrigins))

	// Inbound carrier call path.
	evaluator := routing.NewFlowEvaluator(numbers, flows, users, logger)
	var validator pstn.SignatureValidator
	if carrierClient.Configured() {
		validator = carrierClient
	}
	bridge := pstn.NewBridge(registry, evaluator, numbers, history, router, validator, cfg.PublicURL, logger)

	// Prometheus scrape endpoint over a dedicated registry.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(registry, presence, extensions, history, time.Now()))
	metricsHandler := promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})

	handler := api.NewServer(api.Deps{
		Config:       cfg,
		Users:        users,
		Numbers:      numbers,
		Flows:        flows,
		History:      history,
		SystemConfig: sysConfig,
		Registry:     registry,
		Presence:     presence,
		Extensions:   extensions,
		Sessions:     sessions,
		ClientTokens: clientTokens,
		Notifier:     router,
		Carrier:      carrierClient,
		Bridge:       bridge,
		WSHandler:    wsHandler,
		Metrics:      metricsHandler,
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down server")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("voxera stopped")
}

// newCarrierClient builds the carrier REST client, preferring credentials
// stored in the database over the process configuration.
func newCarrierClient(ctx context.Context, cfg *config.Config, sysConfig database.SystemConfigRepository, logger *slog.Logger) *carrier.Client {
	sid := cfg.CarrierAccountSID
	token := cfg.CarrierAuthToken

	if v, err := sysConfig.Get(ctx, database.ConfigKeyCarrierAccountSID); err != nil {
		slog.Warn("failed to read stored carrier credentials", "error", err)
	} else if v != "" {
		sid = v
	}
	if v, err := sysConfig.Get(ctx, database.ConfigKeyCarrierAuthToken); err == nil && v != "" {
		token = v
	}

	if sid == "" || token == "" {
		slog.Info("carrier credentials not configured, pstn bridging disabled")
	}
	return carrier.NewClient(sid, token, cfg.CarrierAPIURL, logger)
}

// originChecker builds the websocket origin policy from the configured
// CORS origins. No configured origins means same-host only (the gorilla
// default); "*" allows any origin.
func originChecker(raw string) func(r *http.Request) bool {
	origins := middleware.ParseCORSOrigins(raw)
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
