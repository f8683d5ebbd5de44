package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/luckyjinx/matching-service/pkg/logger"
	"github.com/luckyjinx/matching-service/pkg/ratelimit"
)

// KeyFunc Rate Limit 키 추출 함수
type KeyFunc func(*gin.Context) string

// IPKeyFunc uses only the client IP
func IPKeyFunc(c *gin.Context) string {
	return fmt.Sprintf("ip:%s", c.ClientIP())
}

// RequesterKeyFunc 요청 본문의 requesterId, 없으면 IP.
// 본문은 캐시되므로 핸들러는 ShouldBindBodyWith로 다시 읽는다.
func RequesterKeyFunc(c *gin.Context) string {
	var body struct {
		RequesterID string `json:"requesterId"`
	}
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err == nil {
		if id := strings.TrimSpace(body.RequesterID); id != "" {
			return fmt.Sprintf("requester:%s", id)
		}
	}
	return IPKeyFunc(c)
}

// RateLimit 제출 Rate Limit 미들웨어. 제한기 오류 시 요청을 허용한다 (Fail-open).
func RateLimit(limiter ratelimit.Limiter, keyFunc KeyFunc) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = IPKeyFunc
	}

	return func(c *gin.Context) {
		key := keyFunc(c)

		allowed, info, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("Rate limit check failed", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(info.ResetTime).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
