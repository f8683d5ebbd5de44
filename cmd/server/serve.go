package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/luckyjinx/matching-service/internal/api"
	"github.com/luckyjinx/matching-service/internal/bridge"
	"github.com/luckyjinx/matching-service/internal/config"
	"github.com/luckyjinx/matching-service/internal/matchmaking"
	"github.com/luckyjinx/matching-service/internal/metrics"
	"github.com/luckyjinx/matching-service/internal/models"
	"github.com/luckyjinx/matching-service/internal/service"
	"github.com/luckyjinx/matching-service/internal/websocket"
	"github.com/luckyjinx/matching-service/pkg/distributed"
	"github.com/luckyjinx/matching-service/pkg/logger"
	"github.com/luckyjinx/matching-service/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the queue consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg())
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logger.L()

	logger.Info("Starting matching service",
		"port", cfg.Port,
		"env", cfg.Env,
		"timeout", cfg.MatchTimeout,
		"maxRequeues", cfg.MaxRequeues,
		"relaxStrategy", cfg.RelaxStrategy,
	)

	relax, err := matchmaking.PolicyFor(cfg.RelaxStrategy, cfg.MaxRequeues)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(nil)
	hub := websocket.NewHub(log, cfg.CORSAllowedOrigins)
	timers := matchmaking.NewTimerScheduler(clockwork.NewRealClock(), log)

	var (
		scheduler matchmaking.Scheduler = timers
		notifier                        = matchmaking.MultiNotifier{hub}
		publisher service.Publisher
		limiter   ratelimit.Limiter
		br        *bridge.Bridge
		mode      = service.QueueModeLocal
	)

	if cfg.QueueEnabled {
		client, err := connectRedis(ctx, cfg.RedisURL)
		switch {
		case err == nil:
			defer client.Close()
			logger.Info("Redis connection established")

			br = bridge.New(client, bridgeConfig(cfg), log, collector)
			scheduler = matchmaking.NewFallbackScheduler(br, timers, log, collector)
			publisher = br
			notifier = append(notifier, outcomeNotifier(client, log))
			limiter = ratelimit.NewRedisRateLimiter(client, "matching:ratelimit:", cfg.RateLimitPerMinute, time.Minute)
			mode = service.QueueModeRedis
		case cfg.AllowDegraded:
			// 비동기 제출만 막고 직접 경로는 계속 제공한다
			logger.Warn("Redis unavailable, running in degraded mode", "error", err)
			mode = service.QueueModeDegraded
		default:
			return err
		}
	}

	if limiter == nil {
		local := ratelimit.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		defer local.Stop()
		limiter = local
	}

	engine := matchmaking.NewEngine(matchmaking.Config{
		Timeout:             cfg.MatchTimeout,
		Relax:               relax,
		RequireConfirmation: cfg.RequireConfirmation,
		ConfirmTimeout:      cfg.ConfirmTimeout,
	}, scheduler,
		matchmaking.WithNotifier(notifier),
		matchmaking.WithMetrics(collector),
		matchmaking.WithLogger(log.Named("engine")),
	)
	timers.SetHandler(engine.HandleControl)

	svc := service.NewMatchingService(engine, publisher, service.Options{
		QueueMode:          mode,
		CancelOnDisconnect: cfg.CancelOnDisconnect,
	}, log)
	hub.OnDisconnect(svc.HandleDisconnect)

	router := api.SetupRouter(cfg, api.Dependencies{
		MatchingService: svc,
		Hub:             hub,
		Limiter:         limiter,
		Metrics:         collector,
		Logger:          log,
	})

	// 서버 설정. wait=true 요청이 마감까지 대기할 수 있도록 WriteTimeout을 늘린다.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg),
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if br != nil {
		g.Go(func() error {
			return br.Run(gctx, svc)
		})
	}

	g.Go(func() error {
		logger.Info("Server listening", "address", srv.Addr, "queueMode", mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Server exited", "pending", engine.Pending(), "localTimers", timers.Len())
	return err
}

// outcomeNotifier 결과를 Redis Pub/Sub 채널로도 발행한다
func outcomeNotifier(client *redis.Client, log *zap.Logger) matchmaking.Notifier {
	outcomes := distributed.NewOutcomePublisher(client, log)
	return matchmaking.NotifierFunc(func(ctx context.Context, requesterID string, result models.MatchResult) {
		if err := outcomes.Publish(ctx, requesterID, result); err != nil {
			log.Warn("Failed to publish outcome",
				zap.String("requesterId", requesterID),
				zap.Error(err))
		}
	})
}

func writeTimeout(cfg *config.Config) time.Duration {
	d := cfg.MatchTimeout*time.Duration(cfg.MaxRequeues+1) + 15*time.Second
	if d < 15*time.Second {
		d = 15 * time.Second
	}
	return d
}
