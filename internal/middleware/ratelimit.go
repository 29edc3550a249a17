package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/helpinghands/auth-service/internal/client"
	"github.com/helpinghands/auth-service/internal/metrics"
)

// RateLimiter throttles by client IP with token buckets. With a Redis
// client it shares buckets across instances through a Lua script; when
// Redis errors the request is let through in degraded mode rather than
// failing closed on infrastructure trouble.
type RateLimiter struct {
	rate     int
	interval time.Duration
	burst    int
	redis    *client.RedisClient

	mu      sync.RWMutex
	buckets map[string]*tokenBucket
}

func NewRateLimiter(rate int, interval time.Duration, redis *client.RedisClient) *RateLimiter {
	return &RateLimiter{
		rate:     rate,
		interval: interval,
		burst:    rate,
		redis:    redis,
		buckets:  make(map[string]*tokenBucket),
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)

		if rl.redis != nil {
			ok, err := rl.redisAllow(r.Context(), "rl:"+key)
			if err != nil {
				w.Header().Set("X-RateLimit-Degraded", "true")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				metrics.RequestsBlocked.WithLabelValues("rate_limit").Inc()
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if !rl.bucket(key).allow(1) {
			metrics.RequestsBlocked.WithLabelValues("rate_limit").Inc()
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from proxy headers.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type tokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(rate int, interval time.Duration, burst int) *tokenBucket {
	return &tokenBucket{
		capacity:   float64(burst),
		tokens:     float64(burst),
		refillRate: float64(rate) / interval.Seconds(),
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow(cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= float64(cost) {
		b.tokens -= float64(cost)
		return true
	}
	return false
}

func (rl *RateLimiter) bucket(key string) *tokenBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[key]; ok {
		return b
	}
	b = newBucket(rl.rate, rl.interval, rl.burst)
	rl.buckets[key] = b
	return b
}

var bucketScript = client.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local cap = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if not tokens or not ts then
  tokens = cap
  ts = now
else
  local elapsed = (now - ts) / 1000
  tokens = math.min(cap, tokens + (elapsed * rate))
  ts = now
end

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", ts)
redis.call("EXPIRE", key, ttl)

return allowed
`)

func (rl *RateLimiter) redisAllow(ctx context.Context, key string) (bool, error) {
	res, err := bucketScript.Run(ctx, rl.redis, []string{key},
		time.Now().UnixMilli(),
		float64(rl.rate)/rl.interval.Seconds(),
		rl.burst,
		1,
		int(rl.interval.Seconds())*2,
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
