package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"ragcore/api"
	"ragcore/config"
	"ragcore/internal/authctx"
	"ragcore/internal/bm25"
	"ragcore/internal/blobstore"
	"ragcore/internal/embedding"
	"ragcore/internal/ingest"
	"ragcore/internal/llmclient"
	"ragcore/internal/obslog"
	"ragcore/internal/query"
	"ragcore/internal/rerank"
	"ragcore/internal/store"
	"ragcore/internal/summarizer"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file (defaults to ./.env if present)")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		log.Info().Msg("ragcore v1.0.0")
		os.Exit(0)
	}

	cfg := config.Load(*envPath)
	obslog.Init(cfg.LogLevel, cfg.LogPretty)
	logger := obslog.Component("ragcore")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	metaStore, err := store.New(ctx, pool, cfg.VectorDimension)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metadata store")
	}

	blobCfg := blobstore.Config{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		Endpoint:     cfg.S3Endpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		UsePathStyle: cfg.S3UsePathStyle,
		Concurrency:  cfg.BlobConcurrency,
	}
	blobStore, err := blobstore.New(ctx, blobCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize blob store")
	}

	llm := llmclient.New(cfg.LLMBaseURL)
	embeddingEngine := embedding.New(llm, cfg.EmbeddingModel, cfg.ChunkOverlap)
	embeddingEngine.Concurrency = cfg.EmbeddingConcurrency

	extractionLog := logger.With().Str("component", "summarizer").Logger()
	summaryExtractor := summarizer.New(llm, cfg.LLMExtractionModel, extractionLog)

	ingestOrchestrator := &ingest.Orchestrator{
		Store:        metaStore,
		Blob:         blobStore,
		Embedding:    embeddingEngine,
		Summarizer:   summaryExtractor,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Log:          logger.With().Str("component", "ingest").Logger(),
	}

	var reranker rerank.Reranker
	if cfg.RerankerEnabled {
		reranker, err = rerank.New(rerank.Config{
			Enabled: true,
			Type:    cfg.RerankerType,
			Model:   cfg.RerankerModel,
			BaseURL: cfg.LLMBaseURL,
			Log:     logger.With().Str("component", "reranker").Logger(),
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize reranker")
		}
	}

	bm25Scorer := bm25.Scorer{K1: cfg.BM25K1, B: cfg.BM25B, AvgDL: cfg.BM25AvgDL, Boost: cfg.BM25Boost}

	queryOrchestrator := &query.Orchestrator{
		Embed:           llm,
		EmbedModel:      cfg.EmbeddingModel,
		Search:          metaStore,
		Blob:            blobStore,
		BM25:            bm25Scorer,
		RRFK:            cfg.RRFK,
		Reranker:        reranker,
		BlobConcurrency: cfg.BlobConcurrency,
		Log:             logger.With().Str("component", "query").Logger(),
	}

	deps := &api.Deps{
		Store:      metaStore,
		Blob:       blobStore,
		Ingest:     ingestOrchestrator,
		Query:      queryOrchestrator,
		Embed:      llm,
		EmbedModel: cfg.EmbeddingModel,
		Auth:       authctx.NewDevVerifier(""),
		Log:        logger,
	}

	router := api.SetupRouter(deps)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.ServerPort).Msg("ragcore server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}
	pool.Close()
}
