package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/xaenox/assistant/internal/api"
	"github.com/xaenox/assistant/internal/assistant"
	"github.com/xaenox/assistant/internal/bot"
	"github.com/xaenox/assistant/internal/chat"
	"github.com/xaenox/assistant/internal/storage"
	"github.com/xaenox/assistant/pkg/config"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when configured, the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, err := storage.Open(storageConfig(cfg.Database), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := chat.NewService(store, chat.Config{
		PersistInterval: cfg.Chat.PersistInterval,
		DefaultTitle:    cfg.Chat.DefaultTitle,
	}, logger.Named("chat"), chat.NewMetrics(reg))
	svc.Start(ctx)

	responder, err := assistant.New(assistant.Config{
		Provider:     cfg.LLM.Provider,
		Model:        cfg.LLM.Model,
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
		SystemPrompt: cfg.LLM.SystemPrompt,
		Timeout:      cfg.LLM.Timeout,
	}, logger.Named("llm"))
	if err != nil {
		svc.Stop()
		return fmt.Errorf("failed to initialize llm: %w", err)
	}
	conversation := assistant.NewConversation(svc, responder, cfg.Chat.HistoryLimit, logger.Named("conversation"))

	handler := api.NewHandler(svc, conversation, reg, logger.Named("api"))
	e := api.NewServer(handler, api.ServerConfig{
		UserHeader: cfg.Server.UserHeader,
		RateLimit:  cfg.Server.RateLimit,
		RateBurst:  cfg.Server.RateBurst,
	}, logger.Named("http"))

	serverErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	botDone := make(chan struct{})
	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram.Token, svc, conversation, logger.Named("bot"))
		if err != nil {
			logger.Error("Failed to create bot", zap.Error(err))
			close(botDone)
		} else {
			go func() {
				defer close(botDone)
				if err := b.Start(ctx); err != nil {
					logger.Error("Bot error", zap.Error(err))
				}
			}()
		}
	} else {
		logger.Info("Telegram token not set, bot disabled")
		close(botDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case runErr = <-serverErr:
		logger.Error("HTTP server failed", zap.Error(runErr))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	<-botDone

	// Everything still dirty in the cache is written before the store closes.
	svc.Stop()
	if err := svc.Flush(shutdownCtx); err != nil {
		logger.Error("Final flush failed", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("final flush: %w", err)
		}
	}
	return runErr
}

func storageConfig(db config.DatabaseConfig) storage.DatabaseConfig {
	return storage.DatabaseConfig{
		Driver:   db.Driver,
		Host:     db.Host,
		Port:     db.Port,
		User:     db.User,
		Password: db.Password,
		DBName:   db.DBName,
		SSLMode:  db.SSLMode,
		Path:     db.Path,
	}
}
