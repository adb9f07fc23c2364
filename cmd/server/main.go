package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/rentrecon/internal/auth"
	"github.com/mmynk/rentrecon/internal/config"
	"github.com/mmynk/rentrecon/internal/gateway"
	"github.com/mmynk/rentrecon/internal/ingest"
	"github.com/mmynk/rentrecon/internal/ledger"
	"github.com/mmynk/rentrecon/internal/middleware"
	"github.com/mmynk/rentrecon/internal/reconcile"
	"github.com/mmynk/rentrecon/internal/service"
	"github.com/mmynk/rentrecon/internal/storage/sqlite"
	"github.com/mmynk/rentrecon/pkg/logging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup()
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.SetupWith(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath)

	ingestor := ingest.New(store, cfg.Location)
	engine := ledger.NewEngine(store, cfg.Location)
	orchestrator := reconcile.New(store, engine, reconcile.Config{
		AutoMatchThreshold: cfg.AutoMatchThreshold,
		PageSize:           cfg.ReconcilePageSize,
	})

	var gw service.Gateway
	if cfg.MPesa.Enabled() {
		client, err := gateway.NewClient(gateway.Config{
			BaseURL:        cfg.MPesa.BaseURL,
			ConsumerKey:    cfg.MPesa.ConsumerKey,
			ConsumerSecret: cfg.MPesa.ConsumerSecret,
			ShortCode:      cfg.MPesa.ShortCode,
			PassKey:        cfg.MPesa.PassKey,
			CallbackURL:    cfg.MPesa.CallbackURL,
			Location:       cfg.Location,
		})
		if err != nil {
			slog.Error("Failed to initialize payment gateway", "error", err)
			os.Exit(1)
		}
		gw = client
		slog.Info("Push payments enabled", "short_code", cfg.MPesa.ShortCode)
	} else {
		slog.Warn("Push payments disabled, MPESA_CONSUMER_KEY not set")
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL)

	mux := http.NewServeMux()

	rpcPath, rpcHandler := service.NewReconcileServiceHandler(
		service.NewReconcileService(store, ingestor, orchestrator, engine, gw),
		connect.WithInterceptors(middleware.RequireAuth(jwtManager), middleware.LoggingInterceptor()),
	)
	mux.Handle(rpcPath, middleware.CORS(rpcHandler))

	limiter := middleware.NewRateLimiter(cfg.CallbackRateLimit, int(cfg.CallbackRateLimit)*2, cfg.CallbackTrustProxy)
	service.NewCallbackHandler(ingestor, orchestrator).Register(mux,
		middleware.CallbackGuard(cfg.CallbackSources, cfg.CallbackTrustProxy, limiter))
	slog.Info("Callback allow-list loaded", "prefixes", len(cfg.CallbackSources), "trust_proxy", cfg.CallbackTrustProxy)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	h2cHandler := h2c.NewHandler(middleware.Logging(mux), &http2.Server{})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h2cHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "address", cfg.HTTPAddr, "env", cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}
}
