package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luckyjinx/matching-service/internal/bridge"
	"github.com/luckyjinx/matching-service/internal/config"
	"github.com/luckyjinx/matching-service/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:   "matching-service",
		Short: "Peer-practice request matching service",
		Long: `Pairs two requesters who ask for the same practice topic and difficulty.
Without a subcommand the HTTP server is started.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// 설정 로드
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = loaded

			// 로거 초기화
			return logger.Init(cfg.Env, cfg.LogLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	current := func() *config.Config { return cfg }
	rootCmd.AddCommand(newServeCmd(current))
	rootCmd.AddCommand(newEnqueueCmd(current))
	rootCmd.AddCommand(newStatusCmd(current))
	return rootCmd
}

// connectRedis REDIS_URL로 연결하고 Ping으로 확인
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func bridgeConfig(cfg *config.Config) bridge.Config {
	return bridge.Config{
		QueueName:       cfg.QueueName,
		MaxSize:         cfg.QueueMaxSize,
		PollInterval:    cfg.QueuePollInterval,
		PromoteInterval: cfg.QueuePromoteInterval,
		StaleTimeout:    cfg.QueueStaleTimeout,
		DedupeTTL:       cfg.QueueDedupeTTL,
		MaxRetries:      cfg.QueueMaxRetries,
		PublishRetries:  cfg.PublishRetries,
	}
}

// newBridge CLI 명령용 브리지. 메트릭은 수집하지 않는다.
func newBridge(client *redis.Client, cfg *config.Config) *bridge.Bridge {
	return bridge.New(client, bridgeConfig(cfg), logger.L(), nil)
}
