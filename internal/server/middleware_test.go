package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(cors([]string{"https://forum.example.edu", "https://*.campus.example.edu"}))
	e.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	e.POST("/token", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name, method, origin, allow string
		status                      int
	}{
		{"no origin", http.MethodPost, "", "", http.StatusOK},
		{"exact", http.MethodPost, "https://forum.example.edu", "https://forum.example.edu", http.StatusOK},
		{"wildcard", http.MethodPost, "https://cs.campus.example.edu", "https://cs.campus.example.edu", http.StatusOK},
		{"wildcard needs subdomain", http.MethodPost, "https://.campus.example.edu", "", http.StatusOK},
		{"foreign", http.MethodPost, "https://evil.example.com", "", http.StatusOK},
		{"preflight", http.MethodOptions, "https://forum.example.edu", "https://forum.example.edu", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/token", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			e.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.allow, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORSAllowAll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(cors([]string{"*"}))
	e.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	l := newRateLimiter(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
}

func TestRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := newRateLimiter(0.001, 1)
	e := gin.New()
	e.Use(l.middleware())
	e.POST("/token", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		e.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/token", nil))
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
