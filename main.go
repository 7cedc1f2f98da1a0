package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"govchat/config"
	"govchat/engine"
	"govchat/llm"
	"govchat/mcp"
	"govchat/server"
	"govchat/store"
	"govchat/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	providers := mcp.LoadProviders(cfg.MCPServersFile, logger)
	registry := mcp.NewRegistry(providers, cfg.AggregatorProvider, logger)
	defer registry.Close()

	broker := stream.NewBroker(logger)

	var conversations server.ConversationStore
	if cfg.DatabaseURL != "" {
		st, err := store.Open(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer st.Close()
		conversations = st
	} else {
		logger.Warn("no database configured - conversations will not be saved")
	}

	factory := func(modelName string) (llm.Provider, error) {
		llmCfg := llm.Config{
			Provider:   cfg.LLM.Provider,
			BaseURL:    cfg.LLM.BaseURL,
			APIKey:     cfg.LLM.APIKey,
			APIVersion: cfg.LLM.APIVersion,
			Model:      cfg.LLM.Model,
		}
		if modelName != "" {
			llmCfg.Model = modelName
		}
		return llm.NewProvider(llmCfg)
	}

	turns := engine.New(registry, broker, factory, logger)
	srv := server.New(turns, conversations, broker, cfg.IsLocal(), logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// newLogger builds the process logger: JSON in deployed environments, text
// locally.
func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsLocal() {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
