package websocket

import (
	"context"
	"sync"

	"github.com/luckyjinx/matching-service/internal/models"
	"go.uber.org/zap"
)

const MessageTypeMatchResult = "match_result"

// Hub 사용자별 WebSocket 연결 관리 및 결과 전달
type Hub struct {
	// 사용자별 연결 저장 (userID -> *Client)
	clients map[string]*Client
	mu      sync.RWMutex

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// 사용자 연결이 끊겼을 때 호출 (교체된 연결은 제외)
	onDisconnect func(userID string)

	allowedOrigins map[string]bool
	logger         *zap.Logger
}

// Message WebSocket 메시지
type Message struct {
	UserID  string      `json:"-"`       // 수신자 (빈 문자열이면 전체 브로드캐스트)
	Type    string      `json:"type"`    // 메시지 타입
	Payload interface{} `json:"payload"` // 메시지 내용
}

// NewHub Hub 생성. allowedOrigins가 비었거나 "*"를 포함하면 모든 origin을 허용한다.
func NewHub(logger *zap.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}

	var origins map[string]bool
	for _, o := range allowedOrigins {
		if o == "*" {
			origins = nil
			break
		}
		if origins == nil {
			origins = make(map[string]bool)
		}
		origins[o] = true
	}

	return &Hub{
		clients:        make(map[string]*Client),
		broadcast:      make(chan *Message, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		allowedOrigins: origins,
		logger:         logger,
	}
}

// OnDisconnect 연결 종료 콜백 등록. Run 시작 전에 호출한다.
func (h *Hub) OnDisconnect(fn func(userID string)) {
	h.onDisconnect = fn
}

// Run ctx가 끝날 때까지 Hub 실행
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 기존 연결이 있으면 닫기
	if old, exists := h.clients[client.userID]; exists {
		close(old.send)
		h.logger.Info("Replaced existing WebSocket connection",
			zap.String("userId", client.userID))
	}

	h.clients[client.userID] = client
	h.logger.Info("WebSocket client registered",
		zap.String("userId", client.userID),
		zap.Int("totalClients", len(h.clients)))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	cur, exists := h.clients[client.userID]
	current := exists && cur == client
	if current {
		delete(h.clients, client.userID)
		close(client.send)
		h.logger.Info("WebSocket client unregistered",
			zap.String("userId", client.userID),
			zap.Int("totalClients", len(h.clients)))
	}
	h.mu.Unlock()

	if current && h.onDisconnect != nil {
		h.onDisconnect(client.userID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
}

func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, exists := h.clients[message.UserID]
	if !exists {
		h.logger.Debug("No WebSocket connection for user",
			zap.String("userId", message.UserID),
			zap.String("type", message.Type))
		return
	}
	select {
	case client.send <- message:
	default:
		h.logger.Warn("Client send channel full",
			zap.String("userId", message.UserID))
	}
}

// SendToUser 특정 사용자에게 메시지 전송. Hub가 밀려 있으면 버린다.
func (h *Hub) SendToUser(userID string, msgType string, payload interface{}) {
	select {
	case h.broadcast <- &Message{UserID: userID, Type: msgType, Payload: payload}:
	default:
		h.logger.Warn("Hub broadcast queue full, dropping message",
			zap.String("userId", userID),
			zap.String("type", msgType))
	}
}

// Deliver 매칭 결과를 요청자의 소켓으로 전달
func (h *Hub) Deliver(_ context.Context, requesterID string, result models.MatchResult) {
	h.SendToUser(requesterID, MessageTypeMatchResult, result)
}


func (h *Hub) originAllowed(origin string) bool {
	if h.allowedOrigins == nil || origin == "" {
		return true
	}
	return h.allowedOrigins[origin]
}
