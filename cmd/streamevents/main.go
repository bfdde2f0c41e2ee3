package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ZaineBoulbahaim/Streamevents/internal/app"
	"github.com/ZaineBoulbahaim/Streamevents/internal/config"
	logpkg "github.com/ZaineBoulbahaim/Streamevents/internal/logger"
	"github.com/ZaineBoulbahaim/Streamevents/internal/metrics"
	"github.com/ZaineBoulbahaim/Streamevents/internal/tracing"
	chiTransport "github.com/ZaineBoulbahaim/Streamevents/internal/transport/chi"
	"github.com/ZaineBoulbahaim/Streamevents/internal/transport/ollama"
	assistantuc "github.com/ZaineBoulbahaim/Streamevents/internal/usecase/assistant"
	healthuc "github.com/ZaineBoulbahaim/Streamevents/internal/usecase/health"
	retrievaluc "github.com/ZaineBoulbahaim/Streamevents/internal/usecase/retrieval"
	"github.com/ZaineBoulbahaim/Streamevents/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting streamevents API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("generation_model", cfg.Generation.Model),
		zap.String("embedding_model", cfg.Embedding.Model),
	)

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:    cfg.Tracing.Enabled,
		Endpoint:   cfg.Tracing.Endpoint,
		SampleRate: cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Fatal("Failed to init tracing", zap.Error(err))
	}

	storage, err := app.OpenStorage(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open catalog store", zap.Error(err))
	}
	defer storage.Close()
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterGenerationMetrics()

	// Load the embedding model once, before serving; every consumer shares the handle.
	embedding := app.NewEmbeddingHandle(cfg, storage.KV, logger)
	initCtx, cancelInit := context.WithTimeout(ctx, time.Duration(cfg.Embedding.InitTimeoutSec)*time.Second)
	err = embedding.Init(initCtx)
	cancelInit()
	if err != nil {
		logger.Fatal("Embedding model failed to load", zap.Error(err))
	}
	logger.Info("Embedding model loaded",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", embedding.Dimensions()),
	)

	generator := ollama.New(ollama.Config{
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		TopP:        cfg.Generation.TopP,
		NumCtx:      cfg.Generation.NumCtx,
		Timeout:     time.Duration(cfg.Generation.TimeoutSec) * time.Second,
	}, logger)
	logger.Info("Generation client configured",
		zap.String("model", generator.Model()),
		zap.String("base_url", cfg.Generation.BaseURL),
	)

	// Create use case services
	retrievalSvc := retrievaluc.New(storage.Catalog, embedding, logger)
	assistantSvc := assistantuc.New(retrievalSvc, generator, assistantuc.Config{
		EventURLPattern: cfg.Catalog.EventURLPattern,
		RequestK:        cfg.Retrieval.RequestK,
	}, logger)
	healthSvc := healthuc.New(storage.Pinger, embedding, generator)

	server := chiTransport.NewServer(assistantSvc, retrievalSvc, healthSvc, chiTransport.Options{
		OnlyFutureDefault: cfg.OnlyFutureDefault(),
		EventURLPattern:   cfg.Catalog.EventURLPattern,
	}, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	if len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not_found", "route not found")
	})
	server.Mount(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.String("path", r.URL.Path),
						zap.Stack("stacktrace"),
					)
					writeJSONError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			ctx, span := tracing.Start(r.Context(), r.Method+" "+r.URL.Path)
			defer span.End()

			reqLogger := logger.With(zap.String("request_id", requestID))
			if traceID := tracing.TraceID(ctx); traceID != "" {
				reqLogger = reqLogger.With(zap.String("trace_id", traceID))
			}
			ctx = logpkg.ContextWithLogger(ctx, reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
