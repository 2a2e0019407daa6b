package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/linkingchat/linkingchat/internal/botcomm"
	"github.com/linkingchat/linkingchat/internal/config"
	"github.com/linkingchat/linkingchat/internal/device"
	"github.com/linkingchat/linkingchat/internal/dispatch"
	"github.com/linkingchat/linkingchat/internal/draft"
	"github.com/linkingchat/linkingchat/internal/llm"
	"github.com/linkingchat/linkingchat/internal/predictive"
	"github.com/linkingchat/linkingchat/internal/push"
	"github.com/linkingchat/linkingchat/internal/router"
	"github.com/linkingchat/linkingchat/internal/store"
	"github.com/linkingchat/linkingchat/internal/whisper"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the AI orchestration service",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	printHeader("🔗 LinkingChat Serve")
	fmt.Println("Starting LinkingChat...")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup Store
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.DBPath), 0o755); err != nil {
		fmt.Printf("Data dir error: %v\n", err)
		os.Exit(1)
	}
	st, err := store.New(cfg.Paths.DBPath)
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	// 3. Setup Providers and Router
	var providers []llm.Provider
	if cfg.Providers.DeepSeek.APIKey != "" {
		providers = append(providers, llm.NewOpenAIProvider(
			"deepseek", cfg.Providers.DeepSeek.APIKey, cfg.Providers.DeepSeek.APIBase, cfg.Providers.DeepSeek.Model))
	}
	if cfg.Providers.Kimi.APIKey != "" {
		providers = append(providers, llm.NewOpenAIProvider(
			"kimi", cfg.Providers.Kimi.APIKey, cfg.Providers.Kimi.APIBase, cfg.Providers.Kimi.Model))
	}
	if len(providers) == 0 {
		fmt.Println("Provider error: no API keys configured (set LINKINGCHAT_DEEPSEEK_API_KEY or LINKINGCHAT_KIMI_API_KEY)")
		os.Exit(1)
	}
	rt := router.New(providers...)
	if cfg.Routing.PrimaryTimeout > 0 {
		rt.PrimaryTimeout = cfg.Routing.PrimaryTimeout
	}
	if cfg.Routing.FallbackTimeout > 0 {
		rt.FallbackTimeout = cfg.Routing.FallbackTimeout
	}
	if cfg.Routing.StreamTimeout > 0 {
		rt.StreamTimeout = cfg.Routing.StreamTimeout
	}

	// 4. Setup Push Transport
	hub := push.NewHub()
	notifier := push.Multi{hub}
	if cfg.Kafka.Enabled {
		relay := push.NewKafkaRelay(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer relay.Close()
		notifier = append(notifier, relay)
		fmt.Println("Kafka relay: enabled (" + cfg.Kafka.Brokers + ")")
	}
	if cfg.Slack.Enabled {
		notifier = append(notifier, push.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel))
		fmt.Println("Slack mirror: enabled (" + cfg.Slack.Channel + ")")
	}

	// 5. Setup Engines
	whisperEngine := whisper.NewEngine(st, rt, notifier)
	predictiveEngine := predictive.NewEngine(st, rt, notifier)
	draftService := draft.NewService(st, rt, notifier)
	if cfg.Draft.TTL > 0 {
		draftService.TTL = cfg.Draft.TTL
	}
	sweeper := draft.NewSweeper(draftService)
	if cfg.Draft.SweepInterval > 0 {
		sweeper.Interval = cfg.Draft.SweepInterval
	}
	botController := botcomm.NewController(st, rt, notifier, nil)
	dispatcher := device.NewDispatcher(st, predictiveEngine)
	loop := dispatch.NewLoop(whisperEngine, dispatcher, botController)

	// 6. Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweeper.Run(ctx)
	go loop.Run(ctx)
	if cfg.Kafka.Enabled {
		ingest := dispatch.NewKafkaIngest(cfg.Kafka.Brokers, cfg.Kafka.IngestTopic, cfg.Kafka.Group, loop)
		defer ingest.Close()
		go ingest.Run(ctx)
		fmt.Println("Kafka ingest: enabled (" + cfg.Kafka.IngestTopic + ")")
	}

	fmt.Printf("Providers: %d registered\n", len(providers))
	fmt.Println("LinkingChat is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	fmt.Println("\nShutting down...")
}
