package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"taskreview/api/internal/app"
	"taskreview/api/internal/archive"
	"taskreview/api/internal/config"
	"taskreview/api/internal/email"
	"taskreview/api/internal/export"
	"taskreview/api/internal/logger"
	"taskreview/api/internal/metrics"
	"taskreview/api/internal/notify"
	"taskreview/api/internal/search"
	"taskreview/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{}).Fatal().Err(err).Msg("config load failed")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	ctx := context.Background()

	dataStore, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ReposDir).Msg("failed to create repos dir")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	sinks := []notify.Sink{notify.NewStoreSink(dataStore)}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisSink, err := notify.NewRedisSink(cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisSink.Close()
		sinks = append(sinks, redisSink)
	}
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		sinks = append(sinks, notify.NewEmailSink(mailer, dataStore, cfg.AppURL))
	} else {
		log.Info().Msg("SMTP not configured, email notifications disabled")
	}
	dispatcher := notify.NewDispatcher(logger.Component(log, "notify"), m, sinks...)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Component(log, "meili"))
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewStoreSearcher(dataStore), logger.Component(log, "search"))

	exportOpts := []export.Option{export.WithDOCXRenderer(export.PandocDOCX(cfg.PandocPath))}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := export.NewMinioStore(ctx, export.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccess,
			SecretKey: cfg.MinioSecret,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Warn().Err(err).Msg("object storage unavailable, exports will not be uploaded")
		} else {
			exportOpts = append(exportOpts, export.WithObjectStore(objects))
		}
	}
	exporter := export.NewService(dataStore, logger.Component(log, "export"), exportOpts...)

	service := app.New(dataStore, logger.Component(log, "app"),
		app.WithDispatcher(dispatcher),
		app.WithArchive(archive.New(cfg.ReposDir)),
		app.WithSearch(searchService),
		app.WithExporter(exporter),
		app.WithMetrics(m),
	)

	go func() {
		reindexCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := searchService.Reindex(reindexCtx, service.ReindexRecords); err != nil {
			log.Warn().Err(err).Msg("search reindex failed")
		}
	}()

	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger.Component(log, "http"), m, metricsHandler)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreDriver).Msg("task review API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.Store, func()) {
	if cfg.StoreDriver == "memory" {
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	return store.NewPostgresStore(db), func() { _ = db.Close() }
}
