package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/luckyjinx/matching-service/internal/config"
	"github.com/luckyjinx/matching-service/internal/matchmaking"
	"github.com/luckyjinx/matching-service/internal/models"
	"github.com/luckyjinx/matching-service/pkg/distributed"
	"github.com/luckyjinx/matching-service/pkg/logger"
	"github.com/spf13/cobra"
)

func newEnqueueCmd(cfg func() *config.Config) *cobra.Command {
	var (
		payload models.SubmitPayload
		wait    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish a match request to the durable queue",
		Long:  "Publish a match request to the inbound queue. With --wait the command stays subscribed to the requester's outcome channel and prints the first result.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := matchmaking.ValidatePayload(payload); err != nil {
				return err
			}
			return runEnqueue(cmd.Context(), cmd, cfg(), payload, wait)
		},
	}

	cmd.Flags().StringVar(&payload.RequesterID, "requester", "", "requester id")
	cmd.Flags().StringVar(&payload.Topic, "topic", "", "practice topic")
	cmd.Flags().StringVar(&payload.Difficulty, "difficulty", "easy", "easy, medium or hard")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the outcome")
	_ = cmd.MarkFlagRequired("requester")
	_ = cmd.MarkFlagRequired("topic")

	return cmd
}

func runEnqueue(ctx context.Context, cmd *cobra.Command, cfg *config.Config, payload models.SubmitPayload, wait time.Duration) error {
	client, err := connectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	br := newBridge(client, cfg)

	if wait <= 0 {
		if err := br.PublishSubmission(ctx, payload); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued request for %s\n", payload.RequesterID)
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	// 결과를 놓치지 않도록 발행 전에 구독한다
	outcomes := distributed.NewOutcomePublisher(client, logger.L())
	subscribed := make(chan struct{})
	received := make(chan models.MatchResult, 1)
	errCh := make(chan error, 1)

	go func() {
		errCh <- outcomes.SubscribeReady(waitCtx, payload.RequesterID, func() { close(subscribed) }, func(data []byte) bool {
			var result models.MatchResult
			if err := json.Unmarshal(data, &result); err != nil {
				logger.Warn("Ignoring malformed outcome", "error", err)
				return true
			}
			received <- result
			return false
		})
	}()

	select {
	case <-subscribed:
	case err := <-errCh:
		return err
	}

	if err := br.PublishSubmission(waitCtx, payload); err != nil {
		return err
	}

	var result models.MatchResult
	select {
	case result = <-received:
	case err := <-errCh:
		// 구독은 결과를 넘긴 직후에도 끝난다
		select {
		case result = <-received:
		default:
			return fmt.Errorf("no outcome within %s: %v", wait, err)
		}
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
