package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"procura/internal/config"
	"procura/internal/llm"
	"procura/internal/logging"
	"procura/internal/observability"
	"procura/internal/pipeline"
	"procura/internal/rag"
	serverhttp "procura/internal/server/http"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "procura-server",
		Short: "Purchasing anomaly analysis and documentation pipeline",
		Long: "procura-server turns per-supplier purchasing-anomaly snapshots into analysis,\n" +
			"report, purchase request, and supplier email documents, with an automated\n" +
			"disclosure check before the email is released.",
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.SetDefaultLevel(logging.ParseLevel(cfg.Logging.Level))
	logger := logging.NewComponentLogger("main")

	if cfg.LLM.APIKey == "" {
		logger.Warn("no LLM API key configured; generation calls will fail")
	}

	strong, err := llm.NewOpenAIClient(cfg.LLM.StrongModel, llm.Config{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Timeout:    cfg.LLM.TimeoutSeconds,
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("create strong LLM client: %w", err)
	}
	light, err := llm.NewOpenAIClient(cfg.LLM.LightModel, llm.Config{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Timeout:    cfg.LLM.TimeoutSeconds,
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("create light LLM client: %w", err)
	}

	embedder, err := rag.NewEmbedder(rag.EmbedderConfig{
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		CacheSize: cfg.Embedding.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}

	store, err := rag.NewStore(rag.StoreConfig{PersistPath: cfg.Store.PersistPath}, embedder)
	if err != nil {
		return fmt.Errorf("create vector store: %w", err)
	}

	metrics := observability.NewMetrics()
	gate := pipeline.NewGate(cfg.Validation.LeakKeywords, light)

	engine, err := pipeline.NewEngine(pipeline.EngineConfig{
		Strong:             strong,
		Light:              light,
		Retriever:          rag.NewRetriever(store),
		Gate:               gate,
		Metrics:            metrics,
		MaxEmailIterations: cfg.Validation.MaxEmailIterations,
	})
	if err != nil {
		return fmt.Errorf("create pipeline engine: %w", err)
	}

	server := serverhttp.NewServer(serverhttp.ServerDeps{
		Config:  cfg,
		Engine:  engine,
		Indexer: rag.NewIndexer(store),
		Store:   store,
		Metrics: metrics,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}
