package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luckyjinx/matching-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, origins ...string) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(nil, origins)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, r.URL.Query().Get("userId"))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func connected(h *Hub, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func dial(t *testing.T, srv *httptest.Server, userID string, header http.Header) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	return conn, err
}

func TestHub_DeliverMatchResult(t *testing.T) {
	hub, srv := startHub(t)

	conn, err := dial(t, srv, "alice", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return connected(hub, "alice") }, time.Second, 5*time.Millisecond)

	hub.Deliver(context.Background(), "alice", models.MatchResult{
		Status:      models.ResultMatched,
		RequesterID: "alice",
		PartnerID:   "bob",
		Topic:       "graphs",
		Difficulty:  models.DifficultyEasy,
		MatchID:     "m1",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    string             `json:"type"`
		Payload models.MatchResult `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageTypeMatchResult, msg.Type)
	assert.Equal(t, "bob", msg.Payload.PartnerID)
	assert.Equal(t, models.DifficultyEasy, msg.Payload.Difficulty)
}

func TestHub_DisconnectCallback(t *testing.T) {
	hub, srv := startHub(t)

	gone := make(chan string, 2)
	hub.OnDisconnect(func(userID string) { gone <- userID })

	first, err := dial(t, srv, "alice", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return connected(hub, "alice") }, time.Second, 5*time.Millisecond)

	// 같은 사용자의 새 연결은 기존 연결을 대체한다. 대체된 연결은 콜백을 부르지 않는다.
	second, err := dial(t, srv, "alice", nil)
	require.NoError(t, err)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = first.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived), "replaced connection should be closed: %v", err)
	first.Close()

	select {
	case id := <-gone:
		t.Fatalf("unexpected disconnect for %s", id)
	case <-time.After(100 * time.Millisecond):
	}
	assert.True(t, connected(hub, "alice"))

	second.Close()
	select {
	case id := <-gone:
		assert.Equal(t, "alice", id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not called")
	}
	assert.False(t, connected(hub, "alice"))
}

func TestHub_RejectsUnknownOrigin(t *testing.T) {
	_, srv := startHub(t, "https://app.example.com")

	_, err := dial(t, srv, "alice", http.Header{"Origin": []string{"https://evil.example.com"}})
	assert.Error(t, err)

	conn, err := dial(t, srv, "alice", http.Header{"Origin": []string{"https://app.example.com"}})
	require.NoError(t, err)
	conn.Close()
}
