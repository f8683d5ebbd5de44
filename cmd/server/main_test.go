package main

import (
	"testing"
	"time"

	"github.com/luckyjinx/matching-service/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "enqueue", "status"}, names)

	enqueue, _, err := root.Find([]string{"enqueue"})
	assert.NoError(t, err)
	assert.NotNil(t, enqueue.Flags().Lookup("requester"))
	assert.NotNil(t, enqueue.Flags().Lookup("wait"))

	status, _, err := root.Find([]string{"status"})
	assert.NoError(t, err)
	assert.NotNil(t, status.Flags().Lookup("dead-letters"))
	assert.NotNil(t, status.Flags().Lookup("clear-dlq"))
}

func TestWriteTimeout_CoversEveryDeadline(t *testing.T) {
	cfg := &config.Config{MatchTimeout: 30 * time.Second, MaxRequeues: 2}
	assert.Equal(t, 105*time.Second, writeTimeout(cfg))
}

func TestBridgeConfig(t *testing.T) {
	cfg := &config.Config{QueueName: "practice", QueueMaxSize: 100, QueueMaxRetries: 7, PublishRetries: 2}
	bc := bridgeConfig(cfg)
	assert.Equal(t, "practice", bc.QueueName)
	assert.Equal(t, 100, bc.MaxSize)
	assert.Equal(t, 7, bc.MaxRetries)
	assert.Equal(t, 2, bc.PublishRetries)
}
