package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/luckyjinx/matching-service/internal/models"
	"github.com/luckyjinx/matching-service/internal/service"
)

// MatchingHandler 매칭 요청 HTTP 처리
type MatchingHandler struct {
	matchingService *service.MatchingService
}

// NewMatchingHandler MatchingHandler 생성
func NewMatchingHandler(matchingService *service.MatchingService) *MatchingHandler {
	return &MatchingHandler{
		matchingService: matchingService,
	}
}

// ConfirmRequest 매칭 수락/거절 요청
type ConfirmRequest struct {
	RequesterID string `json:"requesterId" binding:"required"`
	Accept      *bool  `json:"accept" binding:"required"`
}

// Submit 매칭 요청 제출
// POST /api/v1/matching/requests?wait=true
// 결과가 나면 200, 대기 중이면 202
func (h *MatchingHandler) Submit(c *gin.Context) {
	var req models.SubmitPayload
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	wait := true
	if raw := c.Query("wait"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		wait = parsed
	}

	res, err := h.matchingService.Submit(c.Request.Context(), req, wait)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	if res.Result == nil {
		c.JSON(http.StatusAccepted, gin.H{
			"status":    models.QueueStatusWaiting,
			"requestId": res.RequestID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requestId": res.RequestID,
		"result":    res.Result,
	})
}

// SubmitAsync 내구성 큐로 제출. 결과는 WebSocket/Pub-Sub으로 전달된다.
// POST /api/v1/matching/requests/async
func (h *MatchingHandler) SubmitAsync(c *gin.Context) {
	var req models.SubmitPayload
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	if err := h.matchingService.SubmitAsync(c.Request.Context(), req); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// Cancel 대기 요청 철회
// DELETE /api/v1/matching/requests/:requesterId
func (h *MatchingHandler) Cancel(c *gin.Context) {
	cancelled := h.matchingService.Cancel(c.Request.Context(), c.Param("requesterId"))
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

// Status 대기 상태 조회
// GET /api/v1/matching/requests/:requesterId
func (h *MatchingHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": h.matchingService.Status(c.Param("requesterId"))})
}

// Confirm 매칭 수락/거절
// POST /api/v1/matching/matches/:matchId/confirm
func (h *MatchingHandler) Confirm(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	state, err := h.matchingService.Confirm(c.Request.Context(), c.Param("matchId"), req.RequesterID, *req.Accept)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": state})
}

func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrMatchNotFound):
		respondError(c, http.StatusNotFound, err)
	case errors.Is(err, service.ErrNotParticipant):
		respondError(c, http.StatusForbidden, err)
	case errors.Is(err, service.ErrQueueUnavailable):
		respondError(c, http.StatusServiceUnavailable, err)
	case c.Request.Context().Err() != nil:
		// 클라이언트가 먼저 끊었다. 응답은 전달되지 않는다.
		_ = c.Error(err)
		c.Status(499)
	default:
		respondError(c, http.StatusInternalServerError, err)
	}
}

func respondError(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}
