package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luckyjinx/matching-service/internal/service"
)

// HealthHandler 상태 확인
type HealthHandler struct {
	matchingService *service.MatchingService
}

// NewHealthHandler HealthHandler 생성
func NewHealthHandler(matchingService *service.MatchingService) *HealthHandler {
	return &HealthHandler{matchingService: matchingService}
}

// HealthCheck 대기 풀 크기와 큐 모드를 보고한다
// GET /health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	info := h.matchingService.Health()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "matching-service",
		"pending":   info.Pending,
		"queueMode": info.QueueMode,
	})
}
