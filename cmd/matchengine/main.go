package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lexguard/matchengine/internal/config"
	"github.com/lexguard/matchengine/internal/db"
	dbRedis "github.com/lexguard/matchengine/internal/db/redis"
	"github.com/lexguard/matchengine/internal/domain"
	enginepkg "github.com/lexguard/matchengine/internal/engine"
	"github.com/lexguard/matchengine/internal/index"
	logpkg "github.com/lexguard/matchengine/internal/logger"
	"github.com/lexguard/matchengine/internal/metrics"
	"github.com/lexguard/matchengine/internal/repository/embcache"
	"github.com/lexguard/matchengine/internal/repository/rescache"
	chiTransport "github.com/lexguard/matchengine/internal/transport/chi"
	openaiEmb "github.com/lexguard/matchengine/internal/transport/openai"
	healthuc "github.com/lexguard/matchengine/internal/usecase/health"
	ingestuc "github.com/lexguard/matchengine/internal/usecase/ingest"
	searchuc "github.com/lexguard/matchengine/internal/usecase/search"
	"github.com/lexguard/matchengine/internal/version"
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

	logger.Info("Starting matchengine API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("index_type", cfg.Index.Type),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	metrics.Register()

	// Cache store is optional: with no addrs the service runs uncached.
	var store db.Store
	if len(cfg.Cache.Addrs) > 0 {
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:     cfg.Cache.Addrs,
			Password:  cfg.Cache.Password,
			OpTimeout: time.Duration(cfg.Cache.OpTimeoutMs) * time.Millisecond,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		defer store.Close()

		ctx := context.Background()
		if err := store.WaitForReady(ctx, time.Duration(cfg.Cache.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Cache not ready", zap.Error(err))
		}
		logger.Info("Connected to cache", zap.Strings("addrs", cfg.Cache.Addrs))
	} else {
		logger.Warn("No cache configured, running uncached")
	}

	// Shared worker pool bounds encoder calls and index rebuilds.
	maxWorkers := cfg.Workers.Max
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	workers := semaphore.NewWeighted(int64(maxWorkers))

	embedder := buildEmbedder(cfg, store, logger)
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	eng, err := enginepkg.New(enginepkg.Options{
		Index: index.Config{
			Type:        index.Type(cfg.Index.Type),
			Dim:         cfg.Embedding.Dimensions,
			NList:       cfg.Index.NList,
			NProbe:      cfg.Index.NProbe,
			M:           cfg.Index.HNSWM,
			EFConstruct: cfg.Index.HNSWEFConstruct,
			EFSearch:    cfg.Index.HNSWEFSearch,
		},
		DataDir: cfg.Storage.DataDir,
		Workers: workers,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Failed to create engine", zap.Error(err))
	}

	// Result cache — nil interface (not typed nil pointer!) when store is absent.
	var resultCache searchuc.ResultCache
	if store != nil {
		resultCache = rescache.New(
			store,
			time.Duration(cfg.Cache.ResultTTLSec)*time.Second,
			metrics.ResultCacheTotal,
			logger,
		)
	}

	searchSvc := searchuc.New(eng, embedder, resultCache, searchuc.Config{
		MinOverlap:  cfg.Search.MinOverlap,
		StrongMatch: cfg.Search.StrongMatch,
		MaxTopK:     cfg.Search.MaxTopK,
	}, workers, logger)
	ingestSvc := ingestuc.New(eng, embedder, logger)

	var cachePinger healthuc.CachePinger
	if store != nil {
		cachePinger = store
	}
	healthSvc := healthuc.New(cachePinger, newEmbeddingHealthChecker(embedder))

	server := chiTransport.NewServer(
		searchSvc, ingestSvc, eng, healthSvc,
		cfg.Search.DefaultTopK, cfg.Search.DefaultThreshold,
		logger,
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

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
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	// Flush unsaved index state before exit.
	eng.Close()

	logger.Info("Server stopped gracefully")
}

// fullEmbedder is what the ingest pipeline needs from the embedder chain.
type fullEmbedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached.
func buildEmbedder(cfg config.Config, store db.Store, logger *zap.Logger) fullEmbedder {
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		Logger:     logger,
	})

	if store == nil {
		return base
	}
	return embcache.New(
		base, store,
		time.Duration(cfg.Cache.EmbeddingTTLSec)*time.Second,
		metrics.EmbeddingCacheTotal, logger,
	)
}

// embeddingHealthChecker adapts the embedder chain to health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder fullEmbedder
}

func newEmbeddingHealthChecker(embedder fullEmbedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
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

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
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
