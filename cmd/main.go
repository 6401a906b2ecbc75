package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"insightxr/internal/api"
	"insightxr/internal/auth"
	"insightxr/internal/config"
	"insightxr/internal/events"
	"insightxr/internal/pipeline"
	"insightxr/internal/processing"
	"insightxr/internal/storage"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml", ".env")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	router := setupRouter()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.Open(startCtx, storage.Options{
		Driver:        cfg.Storage.Driver,
		DataDir:       cfg.Storage.DataDir,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		Endpoint:      cfg.Storage.Minio.Endpoint,
		AccessKey:     cfg.Secrets.MinioAccessKey,
		SecretKey:     cfg.Secrets.MinioSecretKey,
		UseSSL:        cfg.Storage.Minio.UseSSL,
		Bucket:        cfg.Bucket,
	})
	startCancel()
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("open object store")
	}

	publisher := buildPublisher(cfg)
	sessions := buildSessions(cfg, store, publisher)

	verifier, err := auth.NewVerifier(cfg.Secrets.JWTSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("create token verifier")
	}
	wireAPI(router, cfg, sessions, verifier, store)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 30 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		log.Info().Int("port", cfg.Port).Str("storage", cfg.Storage.Driver).Str("bucket", cfg.Bucket).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, sessions, publisher, shutdownTimeout)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	r.Use(api.PrometheusMiddleware())
	return r
}

func buildPublisher(cfg config.Config) events.Publisher {
	brokers := events.SplitBrokers(cfg.Events.Brokers)
	if len(brokers) == 0 {
		return events.Nop{}
	}
	log.Info().Strs("brokers", brokers).Str("topic", cfg.Events.Topic).Msg("publishing stage events to kafka")
	return events.NewKafka(brokers, cfg.Events.Topic)
}

func buildSessions(cfg config.Config, store storage.ObjectStore, publisher events.Publisher) *pipeline.Sessions {
	processor := processing.New(cfg.Processing.BaseURL, cfg.Processing.Timeout)
	namer := pipeline.NewNamer(nil)
	return pipeline.NewSessions(func(owner string) *pipeline.Orchestrator {
		o := pipeline.New(store, processor, pipeline.Options{
			Bucket:            cfg.Bucket,
			AllowedExtensions: cfg.AllowedExtensions,
			MaxUploadBytes:    cfg.MaxUploadBytes,
			Namer:             namer,
		})
		o.UsePublisher(publisher)
		log.Debug().Str("user_id", owner).Msg("session created")
		return o
	})
}

func wireAPI(router *gin.Engine, cfg config.Config, sessions *pipeline.Sessions, verifier *auth.Verifier, store storage.ObjectStore) {
	apiHandler := api.NewAPI(sessions, verifier, cfg.MaxUploadBytes)
	if local, ok := store.(*storage.Local); ok {
		apiHandler.UseObjectOpener(local)
	}
	apiHandler.RegisterRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, sessions *pipeline.Sessions, publisher events.Publisher, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	if !sessions.WaitAll(ctx) {
		log.Warn().Msg("pipeline operations did not finish before timeout")
	}
	if k, ok := publisher.(*events.Kafka); ok {
		if err := k.Close(); err != nil {
			log.Warn().Err(err).Msg("close kafka writer")
		}
	}
	log.Info().Msg("server exited cleanly")
}
