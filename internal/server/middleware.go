package server

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	"github.com/tokmz/forum/internal/api"
)

const corsMaxAge = 12 * time.Hour

// cors 浏览器跨域访问 /auth，origins 为 ["*"] 时允许任意源
// 支持 "https://*.example.edu" 形式的通配
func cors(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 1 && origins[0] == "*"
	exact := make(map[string]bool)
	var wildcards []string
	for _, o := range origins {
		if strings.Contains(o, "*") {
			wildcards = append(wildcards, o)
		} else {
			exact[o] = true
		}
	}
	maxAge := strconv.Itoa(int(corsMaxAge.Seconds()))

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || !(allowAll || exact[origin] || matchAnyWildcard(origin, wildcards)) {
			c.Next()
			return
		}

		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			c.Header("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func matchAnyWildcard(origin string, patterns []string) bool {
	for _, p := range patterns {
		prefix, suffix, ok := strings.Cut(p, "*")
		if !ok {
			continue
		}
		if strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) && len(origin) > len(prefix)+len(suffix) {
			return true
		}
	}
	return false
}

// bucket 令牌桶
type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// rateLimiter 按客户端 IP 限流，空闲的桶由 go-cache 过期清理
type rateLimiter struct {
	rate    float64
	burst   float64
	now     func() time.Time
	buckets *gocache.Cache
	mu      sync.Mutex
}

func newRateLimiter(rate float64, burst int) *rateLimiter {
	return &rateLimiter{
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
		buckets: gocache.New(30*time.Minute, 10*time.Minute),
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	var b *bucket
	if v, ok := l.buckets.Get(key); ok {
		b = v.(*bucket)
	} else {
		b = &bucket{tokens: l.burst, last: l.now()}
	}
	// 每次访问刷新过期时间
	l.buckets.SetDefault(key, b)
	l.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	now := l.now()
	b.tokens = min(l.burst, b.tokens+now.Sub(b.last).Seconds()*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			api.Fail(c, ErrTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}
