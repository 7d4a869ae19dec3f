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

	"docmind/internal/app"
	"docmind/internal/config"
	"docmind/internal/pipeline"
	"docmind/internal/rag"
	"docmind/internal/ratelimit"
	"docmind/internal/server"
	"docmind/internal/util"
	"docmind/pkg/ai"
	"docmind/pkg/enrich"
	"docmind/pkg/extract"
	"docmind/pkg/queue"
	"docmind/pkg/storage"
	"docmind/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.AI.EmbeddingDim))
	if err != nil {
		util.Fatal("failed to init store", "err", err)
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		util.Fatal("failed to init object storage", "err", err)
	}

	embedder, completer, err := buildAI(cfg.AI)
	if err != nil {
		util.Fatal("failed to init ai provider", "err", err)
	}

	var ocr extract.OCREngine
	if cfg.OCR.BaseURL != "" {
		engine, err := extract.NewHTTPOCREngine(cfg.OCR.BaseURL)
		if err != nil {
			util.Fatal("failed to init ocr engine", "err", err)
		}
		ocr = engine
	}
	extractor := extract.New(ocr, cfg.OCR.Lang)
	enricher := enrich.New(completer)

	pipe := pipeline.New(st, objects, extractor, enricher, embedder, pipeline.Config{
		ChunkSize:     cfg.Processing.ChunkSize,
		ChunkOverlap:  cfg.Processing.ChunkOverlap,
		MinTextLength: cfg.Processing.MinTextLength,
	})

	limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.Processing.RateLimitPerMinute, time.Minute)
	if err != nil {
		util.Fatal("failed to init rate limiter", "err", err)
	}

	// The limiter throttles both enqueue requests per owner and, through the
	// queue's start gate, how fast workers may begin jobs.
	jobs, err := buildQueue(cfg, limiter)
	if err != nil {
		util.Fatal("failed to init job queue", "err", err)
	}

	appCore := app.New(st, objects, jobs, limiter, app.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	ragSvc := rag.New(st, embedder, completer, rag.Config{
		TopK:         cfg.Chat.TopK,
		HistoryLimit: cfg.Chat.HistoryLimit,
	})

	httpServer := server.New(server.Config{
		App:            appCore,
		RAG:            ragSvc,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs.Start(ctx, cfg.Queue.Concurrency, pipe.Process)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("docmind server listening", "addr", addr, "queueDriver", cfg.Queue.Driver, "aiProvider", cfg.AI.Provider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("server error", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}

func buildAI(cfg config.AIConfig) (ai.Embedder, ai.Completer, error) {
	switch cfg.Provider {
	case "openai":
		client := ai.NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.EmbeddingModel)
		return client, client, nil
	case "ollama":
		client := ai.NewOllamaClient(cfg.BaseURL)
		return ai.NewOllamaEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDim), ai.NewOllamaCompleter(client, cfg.Model), nil
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.APIKey)
		if err != nil {
			return nil, nil, err
		}
		return ai.NewGeminiEmbedder(client, cfg.EmbeddingModel), ai.NewGeminiCompleter(client, cfg.Model), nil
	default:
		return nil, nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}

func buildQueue(cfg config.FileConfig, gate queue.StartGate) (queue.JobQueue, error) {
	retryBase := time.Duration(cfg.Queue.RetryBaseSeconds) * time.Second
	switch cfg.Queue.Driver {
	case "redis":
		return queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.Queue.Stream,
			Group:      cfg.Queue.Group,
			MaxRetries: cfg.Queue.MaxRetries,
			RetryBase:  retryBase,
			JobTTL:     time.Duration(cfg.Queue.JobTTLHours) * time.Hour,
			StartGate:  gate,
		})
	case "amqp":
		return queue.NewAMQPJobQueue(queue.AMQPQueueConfig{
			URL:        cfg.Queue.AMQPURL,
			Queue:      cfg.Queue.AMQPQueue,
			MaxRetries: cfg.Queue.MaxRetries,
			RetryBase:  retryBase,
			StartGate:  gate,
		})
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}
