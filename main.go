package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"equipment-diagnosis/internal/alerts"
	"equipment-diagnosis/internal/audit"
	"equipment-diagnosis/internal/auth"
	"equipment-diagnosis/internal/classifier"
	"equipment-diagnosis/internal/config"
	"equipment-diagnosis/internal/diagnosis"
	"equipment-diagnosis/internal/observability/metrics"
	"equipment-diagnosis/internal/readings/application"
	readings "equipment-diagnosis/internal/readings/domain"
	"equipment-diagnosis/internal/readings/infrastructure/memory"
	readingspostgres "equipment-diagnosis/internal/readings/infrastructure/postgres"
	"equipment-diagnosis/internal/readings/interfaces/export"
	readingshttp "equipment-diagnosis/internal/readings/interfaces/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, auditLogger, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	metrics.Init(repo, logger)

	predictor := classifier.NewPredictor(cfg.ModelPath, logger.Named("classifier"))
	diagnoser := diagnosis.NewClient(cfg.SolarAPIKey,
		diagnosis.WithBaseURL(cfg.SolarBaseURL),
		diagnosis.WithModel(cfg.SolarModel),
		diagnosis.WithTimeout(cfg.SolarTimeout),
		diagnosis.WithLogger(logger.Named("diagnosis")),
	)
	if strings.TrimSpace(cfg.SolarAPIKey) == "" {
		logger.Warn("SOLAR_API_KEY not set; analyses will report a missing key")
	}

	broker := readingshttp.NewSSEBroker()
	notifiers := []application.AnalysisNotifier{broker}
	if cfg.AlertWebhookURL != "" {
		notifier, err := newThreatNotifier(cfg, logger)
		if err != nil {
			logger.Fatal("alert notifier", zap.Error(err))
		}
		notifiers = append(notifiers, notifier)
	}

	service, err := application.NewService(repo, predictor, diagnoser,
		application.WithNotifier(alerts.NewMultiNotifier(notifiers...)),
		application.WithLogger(logger.Named("readings")),
	)
	if err != nil {
		logger.Fatal("readings service", zap.Error(err))
	}

	readingsHandler, err := readingshttp.NewHandler(service,
		readingshttp.WithAuditLogger(auditLogger),
		readingshttp.WithLogger(logger.Named("http")),
		readingshttp.WithMaxUploadBytes(cfg.MaxUploadBytes),
	)
	if err != nil {
		logger.Fatal("readings handler", zap.Error(err))
	}
	exportHandler, err := export.NewHandler(service, logger.Named("export"))
	if err != nil {
		logger.Fatal("export handler", zap.Error(err))
	}

	mux := http.NewServeMux()
	readingsHandler.Register(mux)
	exportHandler.Register(mux)
	mux.Handle("/events/stream", readingshttp.NewStreamHandler(broker))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), auth.NewDefaultPolicy("/health", "/healthz", "/metrics"))
	if !authMiddleware.Enabled() {
		logger.Warn("AUTH_JWT_SECRET not set; endpoints are unauthenticated")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger.Named("access")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreBackend))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server", zap.Error(err))
	}
}

// openStore returns the record store and the matching audit logger.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (readings.Repository, audit.Logger, func()) {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Info("using in-memory record store")
		return memory.NewReadingRepository(), audit.NewZapLogger(logger), func() {}
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Fatal("ping db", zap.Error(err))
	}

	repo := readingspostgres.NewReadingRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure readings schema", zap.Error(err))
	}
	auditRepo := audit.NewRepository(db)
	if err := auditRepo.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure audit schema", zap.Error(err))
	}
	return repo, auditRepo, func() { _ = db.Close() }
}

func newThreatNotifier(cfg config.Config, logger *zap.Logger) (*alerts.ThreatNotifier, error) {
	channel, err := alerts.NewWebhookChannel(cfg.AlertWebhookURL)
	if err != nil {
		return nil, err
	}
	template, err := alerts.NewTemplate(cfg.AlertTemplate)
	if err != nil {
		return nil, err
	}
	opts := []alerts.Option{
		alerts.WithCooldown(cfg.AlertCooldown),
		alerts.WithLogger(logger.Named("alerts")),
	}
	if base := strings.TrimRight(cfg.PublicBaseURL, "/"); base != "" {
		opts = append(opts, alerts.WithReportURLResolver(func(equipmentID string) string {
			return base + "/reports/" + equipmentID + ".pdf"
		}))
	}
	return alerts.NewThreatNotifier(channel, template, opts...)
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the event stream working through the access log wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
