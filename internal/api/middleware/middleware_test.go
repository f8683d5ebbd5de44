package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/luckyjinx/matching-service/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
)

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, *ratelimit.RateLimitInfo, error) {
	return false, nil, errors.New("redis down")
}

func newRouter(limiter ratelimit.Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger())
	r.POST("/submit", RateLimit(limiter, RequesterKeyFunc), func(c *gin.Context) {
		var body struct {
			RequesterID string `json:"requesterId"`
		}
		if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
			_ = c.Error(err)
			c.Status(http.StatusBadRequest)
			return
		}
		c.String(http.StatusOK, body.RequesterID)
	})
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_PerRequester(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(2, time.Minute)
	defer limiter.Stop()
	r := newRouter(limiter)

	for i := 0; i < 2; i++ {
		w := post(r, `{"requesterId":"alice"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		// 미들웨어가 읽은 본문을 핸들러가 다시 읽을 수 있어야 한다
		assert.Equal(t, "alice", w.Body.String())
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := post(r, `{"requesterId":"alice"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = post(r, `{"requesterId":"bob"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_FallsBackToIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`not json`))
	c.Request.RemoteAddr = "10.0.0.7:5555"

	assert.Equal(t, "ip:10.0.0.7", RequesterKeyFunc(c))
}

func TestRateLimit_FailOpen(t *testing.T) {
	r := newRouter(brokenLimiter{})

	w := post(r, `{"requesterId":"alice"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}
