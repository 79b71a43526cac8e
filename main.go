package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"call-replay-analyzer/analyzer"
	"call-replay-analyzer/api"
	"call-replay-analyzer/dataset"
	"call-replay-analyzer/llm"
	"call-replay-analyzer/logger"
	"call-replay-analyzer/pipeline"
	"call-replay-analyzer/prefilter"
	"call-replay-analyzer/prompt"
	"call-replay-analyzer/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	batchPath := flag.String("batch", "", "analyze an xlsx transcript export and exit")
	flag.Parse()

	// Local development secrets, ignored when absent.
	_ = godotenv.Load()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || isFlagSet("config") {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = DefaultConfig()
	}

	log := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	log.WithField("config", *configPath).Info("analyzer starting")

	// Initialize store
	var dataStore store.Store
	switch cfg.Store.Type {
	case "sqlite":
		dbPath := cfg.Store.SQLite.Path
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				log.WithError(err).Error("store init failed")
				os.Exit(1)
			}
		}
		dataStore, err = store.NewSQLiteStore(dbPath, log)
	default:
		dataStore, err = store.NewJSONStore(cfg.Store.JSON.Dir, log)
	}
	if err != nil {
		log.WithError(err).Error("store init failed")
		os.Exit(1)
	}
	defer dataStore.Close()

	// Initialize components
	complete := llm.OpenAI(llm.OpenAIConfig{
		APIKey:          cfg.LLM.APIKey,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Instructions:    prompt.System,
	})
	invoker := llm.NewClient(complete, llm.Config{
		MaxRetries: cfg.LLM.MaxRetries,
		RetryDelay: ParseDuration(cfg.LLM.RetryDelay, time.Second),
	}, log)
	detector := prefilter.New(cfg.Prefilter.ShortAnswerThreshold)
	anlz := analyzer.New(detector, invoker, dataStore, log)
	orch := pipeline.New(anlz, dataStore, pipeline.Config{
		Workers:   cfg.Pipeline.Workers,
		QueueSize: cfg.Pipeline.QueueSize,
	}, log)

	if *batchPath != "" {
		runBatchFile(orch, *batchPath, log)
		orch.Stop()
		return
	}

	server := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      api.NewServer(anlz, orch, detector, dataStore, log, cfg.Server.AuthToken).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		log.WithField("listen", cfg.Server.Listen).Info("api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	orch.Stop()
	log.Info("analyzer stopped")
}

// runBatchFile analyzes an offline transcript export through the full
// pipeline and prints the resulting record.
func runBatchFile(orch *pipeline.Orchestrator, path string, log logrus.FieldLogger) {
	transcripts, err := dataset.Load(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Error("load dataset failed")
		os.Exit(1)
	}

	result := orch.RunBatch(context.Background(), transcripts)

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.WithError(err).Error("encode batch result failed")
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
