package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ClientIP charges requests to the caller's address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// SimpleTokenBucket is an in-memory rate limiter, one bucket per key.
type SimpleTokenBucket struct {
	capacity int
	rate     int
	now      func() time.Time
	mu       sync.Mutex
	state    map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewSimpleTokenBucket creates limiter with capacity tokens and rate per minute.
func NewSimpleTokenBucket(capacity, perMinute int) *SimpleTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &SimpleTokenBucket{
		capacity: capacity,
		rate:     perMinute,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// GinMiddleware limits per client IP.
func (l *SimpleTokenBucket) GinMiddleware() gin.HandlerFunc {
	return l.GinMiddlewareBy(ClientIP)
}

// GinMiddlewareBy limits per key; an empty key falls back to the client IP.
func (l *SimpleTokenBucket) GinMiddlewareBy(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		k := key(c)
		if k == "" {
			k = ClientIP(c)
		}
		if !l.allow(k) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *SimpleTokenBucket) allow(key string) bool {
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.state[key]
	now := l.now()
	if !ok {
		b = &bucket{tokens: l.capacity - 1, last: now}
		l.state[key] = b
		return true
	}
	elapsed := now.Sub(b.last).Minutes()
	refill := int(elapsed * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
