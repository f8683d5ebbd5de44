package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luckyjinx/matching-service/pkg/logger"
)

// Logger 핸들러가 c.Error로 남긴 에러를 요청 정보와 함께 기록
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		keysAndValues := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
			"errors", c.Errors.String(),
		}
		if id := c.Param("requesterId"); id != "" {
			keysAndValues = append(keysAndValues, "requesterId", id)
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("HTTP Request failed", keysAndValues...)
		} else {
			logger.Warn("HTTP Request rejected", keysAndValues...)
		}
	}
}
