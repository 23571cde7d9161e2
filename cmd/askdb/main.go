package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/askdb-dev/askdb/pkg/execguard"
	"github.com/askdb-dev/askdb/pkg/generate"
	"github.com/askdb-dev/askdb/pkg/intent"
	"github.com/askdb-dev/askdb/pkg/logger"
	"github.com/askdb-dev/askdb/pkg/metrics"
	"github.com/askdb-dev/askdb/pkg/pipeline"
	"github.com/askdb-dev/askdb/pkg/respcache"
	"github.com/askdb-dev/askdb/pkg/retrieval"
	"github.com/askdb-dev/askdb/pkg/schema"
	"github.com/askdb-dev/askdb/pkg/server"
	"github.com/askdb-dev/askdb/pkg/session"
	"github.com/askdb-dev/askdb/pkg/validate"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr     = "0.0.0.0:8080"
	defaultMetricsAddr    = "0.0.0.0:9090"
	defaultEmbeddingURL   = "http://localhost:11434"
	defaultEmbeddingModel = "nomic-embed-text"
	defaultVectorURL      = "http://localhost:6333"
	defaultCollection     = "askdb"
	defaultModel          = "claude-sonnet-4-5"
	defaultExternalCall   = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics (empty to disable)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "Server shutdown timeout")

	databaseURLFlag := flag.String("database-url", "", "PostgreSQL connection string (or set DATABASE_URL env var)")
	schemaNameFlag := flag.String("schema-name", "public", "Database schema to introspect")

	embeddingURLFlag := flag.String("embedding-url", defaultEmbeddingURL, "Embedding service base URL (or set EMBEDDING_URL env var)")
	embeddingModelFlag := flag.String("embedding-model", defaultEmbeddingModel, "Embedding model name")
	vectorURLFlag := flag.String("vector-url", defaultVectorURL, "Vector store base URL (or set VECTOR_STORE_URL env var)")
	collectionFlag := flag.String("vector-collection", defaultCollection, "Vector store collection name")

	modelFlag := flag.String("model", defaultModel, "Generative model name (or set ANTHROPIC_MODEL env var; key from ANTHROPIC_API_KEY)")
	llmCallsPerMinFlag := flag.Int("llm-calls-per-min", 30, "Rate limit for generative backend calls")

	minConfidenceFlag := flag.Float64("min-confidence", 0.7, "Intent confidence floor below which clarification is requested")
	queryTimeoutFlag := flag.Duration("query-timeout", 30*time.Second, "Per-statement execution timeout")

	flag.Parse()

	// Load .env file if it exists, then let environment variables override
	// flag defaults.
	_ = godotenv.Load()
	if v := os.Getenv("DATABASE_URL"); v != "" {
		*databaseURLFlag = v
	}
	if v := os.Getenv("EMBEDDING_URL"); v != "" {
		*embeddingURLFlag = v
	}
	if v := os.Getenv("VECTOR_STORE_URL"); v != "" {
		*vectorURLFlag = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		*modelFlag = v
	}

	log := logger.New(*verboseFlag)

	if *databaseURLFlag == "" {
		return fmt.Errorf("database-url is required (flag or DATABASE_URL env var)")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigCh
		log.Info("server: received signal", "signal", sig.String())
		cancel()
	}()

	var metricsServerErrCh = make(chan error, 1)
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
				return
			}
		}()
	}

	pool, err := pgxpool.New(ctx, *databaseURLFlag)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	schemaProvider, err := schema.NewProvider(&schema.ProviderConfig{
		Logger: log,
		Loader: schema.NewPGLoader(pool, *schemaNameFlag),
	})
	if err != nil {
		return fmt.Errorf("failed to create schema provider: %w", err)
	}

	embedder := retrieval.NewCachedEmbedder(
		retrieval.NewHTTPEmbedder(*embeddingURLFlag, *embeddingModelFlag, defaultExternalCall),
		time.Hour,
	)
	retriever, err := retrieval.New(&retrieval.Config{
		Logger:   log,
		Embedder: embedder,
		Store:    retrieval.NewHTTPVectorStore(*vectorURLFlag, *collectionFlag, defaultExternalCall),
	})
	if err != nil {
		return fmt.Errorf("failed to create retriever: %w", err)
	}

	backend := generate.NewAnthropicGenerator(log, anthropic.Model(*modelFlag), *llmCallsPerMinFlag)
	controller, err := generate.New(&generate.Config{
		Logger:    log,
		Generator: backend,
	})
	if err != nil {
		return fmt.Errorf("failed to create generation controller: %w", err)
	}

	validator, err := validate.New(&validate.Config{Logger: log})
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}

	breaker, err := execguard.NewBreaker(&execguard.BreakerConfig{Logger: log})
	if err != nil {
		return fmt.Errorf("failed to create circuit breaker: %w", err)
	}
	source, err := execguard.NewPGSource(pool, 3*time.Second, *queryTimeoutFlag, 2*time.Second)
	if err != nil {
		return fmt.Errorf("failed to create row source: %w", err)
	}
	executor, err := execguard.New(&execguard.Config{
		Logger:       log,
		Source:       source,
		Breaker:      breaker,
		QueryTimeout: *queryTimeoutFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	synthesizer, err := pipeline.NewSynthesizer(log, backend)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}

	sessions, err := session.NewStore(&session.Config{Logger: log})
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	sessions.StartSweeper(ctx)

	cache, err := respcache.New(&respcache.Config{Logger: log})
	if err != nil {
		return fmt.Errorf("failed to create response cache: %w", err)
	}

	pipe, err := pipeline.New(&pipeline.Config{
		Logger:      log,
		Analyzer:    intent.NewAnalyzer(*minConfidenceFlag),
		Retriever:   retriever,
		Generator:   controller,
		Validator:   validator,
		Executor:    executor,
		Synthesizer: synthesizer,
		Schema:      schemaProvider,
		Sessions:    sessions,
		Cache:       cache,
		Embedder:    embedder,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	srv, err := server.New(&server.Config{
		Logger:          log,
		Pipeline:        pipe,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("server: shutting down", "reason", ctx.Err())
		return nil
	case err := <-serverErrCh:
		if err != nil {
			log.Error("server: server error causing shutdown", "error", err)
		}
		return err
	case err := <-metricsServerErrCh:
		log.Error("server: metrics server error causing shutdown", "error", err)
		return err
	}
}
