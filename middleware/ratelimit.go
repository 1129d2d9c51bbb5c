package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterSet struct {
	mu      sync.Mutex
	r       rate.Limit
	b       int
	clients map[string]*clientLimiter
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.r, s.b)}
		s.clients[key] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

func (s *limiterSet) sweep(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, cl := range s.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(s.clients, k)
		}
	}
}

// RateLimit is a token-bucket limiter with r requests per second and burst b.
// Authenticated callers are limited per account, anonymous ones per IP, so
// run it after Auth or OptionalAuth to get per-account buckets.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	set := &limiterSet{r: r, b: b, clients: make(map[string]*clientLimiter)}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			set.sweep(time.Now().Add(-10 * time.Minute))
		}
	}()

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id := GetAccountID(c); id != 0 {
			key = "acct:" + strconv.FormatInt(id, 10)
		}
		if !set.get(key).Allow() {
			c.Header("Retry-After", strconv.Itoa(retryAfter(r)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}

// retryAfter is the whole number of seconds until one token refills.
func retryAfter(r rate.Limit) int {
	if r <= 0 {
		return 60
	}
	secs := int(math.Ceil(1 / float64(r)))
	if secs < 1 {
		return 1
	}
	if secs > 3600 {
		return 3600
	}
	return secs
}
