package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/api"
	"github.com/wesh92/fastapi-websockets-llm-example/internal/chat"
	"github.com/wesh92/fastapi-websockets-llm-example/internal/config"
	"github.com/wesh92/fastapi-websockets-llm-example/internal/llm/providers"
	"github.com/wesh92/fastapi-websockets-llm-example/internal/storage"
)

var (
	port       int
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "chat-api",
	Short: "Streaming LLM chat relay over WebSockets",
	Long: `chat-api relays chat messages between WebSocket clients and LLM
providers, streaming partial responses back as they arrive. Each session
gets rate limiting, backpressure, and durable history.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().IntVar(&port, "port", 8000, "port to listen on")
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to configuration file")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug || cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if !cmd.Flags().Changed("port") {
		port = cfg.Server.Port
	}

	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	handler := providers.WithRetry(
		providers.NewHandler(providers.Options{
			OpenRouterAPIKey: cfg.Providers.OpenRouterAPIKey,
			OpenAIAPIKey:     cfg.Providers.OpenAIAPIKey,
			AnthropicAPIKey:  cfg.Providers.AnthropicAPIKey,
			SiteURL:          cfg.Providers.SiteURL,
			SiteName:         cfg.Providers.SiteName,
		}),
		providers.DefaultRetryConfig(),
	)

	manager := chat.NewManager(chat.Options{
		BucketCapacity:  cfg.Chat.BucketCapacity,
		RefillRate:      cfg.Chat.RefillRate,
		MessageCost:     cfg.Chat.MessageCost,
		QueueCapacity:   cfg.Chat.QueueCapacity,
		UpstreamTimeout: cfg.Chat.UpstreamTimeout,
		DefaultModel:    cfg.Chat.DefaultModel,
		SessionIdleTTL:  cfg.Chat.SessionIdleTTL,
		SweepInterval:   cfg.Chat.SweepInterval,
		Models:          cfg.Chat.Models,
	}, store, handler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go manager.Run(ctx)

	server := api.NewServer(cfg, manager)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
