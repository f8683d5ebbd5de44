package distributed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomePublisher_PublishSubscribe(t *testing.T) {
	client := setupRedisClient(t)
	pub := NewOutcomePublisher(client, nil)

	assert.Equal(t, "matching:outcomes:alice", pub.Channel("alice"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan map[string]string, 1)
	subscribed := make(chan error, 1)
	go func() {
		subscribed <- pub.Subscribe(ctx, "alice", func(payload []byte) bool {
			var body map[string]string
			_ = json.Unmarshal(payload, &body)
			received <- body
			return false
		})
	}()

	// 구독이 붙을 때까지 재발행
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		require.NoError(t, pub.Publish(ctx, "alice", map[string]string{"status": "matched"}))
		select {
		case body := <-received:
			assert.Equal(t, "matched", body["status"])
			assert.NoError(t, <-subscribed)
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("outcome not received")
		}
	}
}

func TestOutcomePublisher_SubscribeReady(t *testing.T) {
	client := setupRedisClient(t)
	pub := NewOutcomePublisher(client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ready := make(chan struct{})
	received := make(chan []byte, 1)
	done := make(chan error, 1)
	go func() {
		done <- pub.SubscribeReady(ctx, "bob", func() { close(ready) }, func(payload []byte) bool {
			received <- payload
			return false
		})
	}()

	select {
	case <-ready:
	case <-ctx.Done():
		t.Fatal("subscription not confirmed")
	}

	// ready 이후 한 번의 발행으로 충분하다
	require.NoError(t, pub.Publish(ctx, "bob", map[string]string{"status": "timed_out"}))

	select {
	case payload := <-received:
		assert.JSONEq(t, `{"status":"timed_out"}`, string(payload))
	case <-ctx.Done():
		t.Fatal("outcome not received")
	}
	assert.NoError(t, <-done)
}
