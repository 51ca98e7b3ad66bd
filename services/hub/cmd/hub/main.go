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

	"ids/internal/envelope"
	"ids/internal/jwtsigner"
	"ids/internal/observability/logging"
	"ids/services/hub/internal/config"
	"ids/services/hub/internal/eventstore"
	"ids/services/hub/internal/observability/metrics"
	"ids/services/hub/internal/service"
	"ids/services/hub/internal/store"
	httptransport "ids/services/hub/internal/transport/http"
)

func main() {
	cfg, err := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "hub",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)

	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting service", "addr", cfg.Addr, "event_store", cfg.EventStore, "db_driver", cfg.DatabaseDriver)

	metrics.MustRegister("hub")

	gdb, err := store.Open(store.DBConfig{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}
	st := store.New(gdb)
	if err := st.AutoMigrate(); err != nil {
		logger.Error("automigrate", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, err := openEventStore(ctx, cfg, st)
	if err != nil {
		logger.Error("event store", "error", err)
		os.Exit(1)
	}

	codec, err := envelope.New(envelope.Suite(cfg.Cipher))
	if err != nil {
		logger.Error("cipher", "error", err)
		os.Exit(1)
	}

	signer, err := jwtsigner.NewFromBase64(cfg.AdminPrivateKey, cfg.AdminKeyID, cfg.AdminIssuer)
	if err != nil {
		logger.Error("admin signer", "error", err)
		os.Exit(1)
	}
	if cfg.AdminPrivateKey == "" {
		logger.Warn("HUB_ADMIN_PRIVATE_KEY not set, operator tokens are only valid for this process")
	}

	svc := service.New(st, events, service.Options{InternalToken: cfg.InternalToken, Codec: codec})
	router := httptransport.NewRouter(svc, httptransport.Options{
		Signer:         signer,
		CORSOrigins:    cfg.CORSOrigins,
		RegisterRate:   cfg.RegisterRate,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	logger.Info("hub listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listen", "error", err)
		os.Exit(1)
	}
	logger.Info("hub stopped")
}

func openEventStore(ctx context.Context, cfg config.Config, st *store.Store) (eventstore.Store, error) {
	if cfg.EventStore != "elasticsearch" {
		return eventstore.NewSQL(st), nil
	}
	es, err := eventstore.NewElastic(eventstore.ElasticConfig{
		Addresses:   cfg.ESAddresses,
		Username:    cfg.ESUsername,
		Password:    cfg.ESPassword,
		IndexPrefix: cfg.ESIndexPrefix,
	})
	if err != nil {
		return nil, err
	}
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := es.EnsureIndices(initCtx); err != nil {
		// The hub still serves registration; ingestion answers 503 until
		// the cluster is reachable.
		slog.Warn("elasticsearch indices not ready", "error", err)
	}
	return es, nil
}
