package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/ecgdesk/pkg/analysis"
	"github.com/synaptica-ai/ecgdesk/pkg/common/config"
	"github.com/synaptica-ai/ecgdesk/pkg/common/database"
	"github.com/synaptica-ai/ecgdesk/pkg/common/kafka"
	"github.com/synaptica-ai/ecgdesk/pkg/common/logger"
	"github.com/synaptica-ai/ecgdesk/pkg/desk"
	"github.com/synaptica-ai/ecgdesk/pkg/gateway/middleware"
	"github.com/synaptica-ai/ecgdesk/pkg/identity"
	"github.com/synaptica-ai/ecgdesk/pkg/lifecycle"
	"github.com/synaptica-ai/ecgdesk/pkg/observability/metrics"
	"github.com/synaptica-ai/ecgdesk/pkg/records"
)

func main() {
	logger.Init()
	cfg := config.Load()

	slot, ready, err := openSlot(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to prepare record slot")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := records.Open(ctx, slot)
	cancel()
	if err != nil {
		logger.Log.WithError(err).WithField("backend", cfg.StoreBackend).Fatal("Failed to load patient records")
	}

	collector := metrics.NewCollector(cfg.MetricsNamespace, nil)
	collector.SetStored(store.Len())

	gateway := analysis.NewGateway(analysis.Config{
		URL:             cfg.AnalysisURL,
		Timeout:         cfg.AnalysisTimeout,
		Attempts:        cfg.AnalysisAttempts,
		BreakerFailures: uint32(cfg.AnalysisBreakerFailures),
		BreakerCooldown: cfg.AnalysisBreakerCooldown,
	})

	opts := lifecycle.Options{
		Metrics: collector,
		IDs:     identity.NewGenerator(nil),
	}
	var producer *kafka.Producer
	if cfg.EventsEnabled() {
		producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		opts.Publisher = producer
	} else {
		logger.Log.Info("Kafka brokers not configured, record events disabled")
	}

	ctrl := lifecycle.NewController(store, gateway, opts)

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(middleware.Metrics(collector))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	desk.RegisterProbes(router, ready)
	router.Handle("/metrics", metrics.MetricsHandler()).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	desk.NewHTTPHandler(ctrl, store, cfg.MaxRequestBody).Register(apiRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":     cfg.ServerHost,
			"port":     cfg.ServerPort,
			"backend":  cfg.StoreBackend,
			"records":  store.Len(),
			"analysis": cfg.AnalysisURL,
		}).Info("ECG desk service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down ECG desk service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Log.WithError(err).Warn("Failed to close event producer")
		}
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Warn("Failed to close Redis")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Warn("Failed to close Postgres")
	}

	logger.Log.Info("ECG desk service stopped")
}

// openSlot picks the persistence backend and the readiness check that goes with it.
func openSlot(cfg *config.Config) (records.Slot, func(context.Context) error, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		client := database.GetRedis(cfg)
		return records.NewRedisSlot(client, cfg.SlotName), database.PingRedis, nil
	case config.BackendPostgres:
		db, err := database.GetPostgres(cfg)
		if err != nil {
			return nil, nil, err
		}
		slot := records.NewPostgresSlot(db, cfg.SlotName)
		if err := slot.AutoMigrate(); err != nil {
			return nil, nil, fmt.Errorf("migrating record slots: %w", err)
		}
		return slot, database.PingPostgres, nil
	case config.BackendMemory:
		return records.NewMemorySlot(nil), nil, nil
	case config.BackendFile, "":
		fs := records.NewFileSlot(cfg.DataDir, cfg.SlotName)
		logger.Log.WithField("path", fs.Path()).Info("Using file record slot")
		return fs, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
