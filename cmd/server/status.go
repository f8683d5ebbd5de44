package main

import (
	"encoding/json"
	"fmt"

	"github.com/luckyjinx/matching-service/internal/config"
	"github.com/spf13/cobra"
)

func newStatusCmd(cfg func() *config.Config) *cobra.Command {
	var (
		deadLetters int64
		clearDLQ    bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue statistics",
		Long:  "Display inbound queue, in-flight, delayed and dead-letter counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := connectRedis(ctx, cfg().RedisURL)
			if err != nil {
				return err
			}
			defer client.Close()

			br := newBridge(client, cfg())
			stats, err := br.Stats(ctx)
			if err != nil {
				return err
			}
			delayed, err := br.Delayed(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "queue:      %s\n", cfg().QueueName)
			fmt.Fprintf(out, "pending:    %d\n", stats.QueueSize)
			fmt.Fprintf(out, "in-flight:  %d\n", stats.ProcessingCount)
			fmt.Fprintf(out, "delayed:    %d\n", delayed)
			fmt.Fprintf(out, "dead:       %d\n", stats.DLQSize)

			if deadLetters > 0 && stats.DLQSize > 0 {
				letters, err := br.DeadLetters(ctx, deadLetters)
				if err != nil {
					return err
				}
				for _, dl := range letters {
					line, _ := json.Marshal(dl)
					fmt.Fprintln(out, string(line))
				}
			}

			// 출력 뒤에 비워서 확인한 내용을 버리는지 알 수 있게 한다
			if clearDLQ {
				if err := br.ClearDeadLetters(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "cleared %d dead letters\n", stats.DLQSize)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&deadLetters, "dead-letters", 0, "print up to N dead letters")
	cmd.Flags().BoolVar(&clearDLQ, "clear-dlq", false, "empty the dead-letter queue after printing")
	return cmd
}
