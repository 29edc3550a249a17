// Package client holds shared infrastructure clients.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/helpinghands/auth-service/internal/util/logger"
)

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	Address         string               `yaml:"address"`
	Password        string               `yaml:"password"`
	DB              int                  `yaml:"db"`
	PoolSize        int                  `yaml:"pool_size"`
	MinIdleConns    int                  `yaml:"min_idle_conns"`
	MaxRetries      int                  `yaml:"max_retries"`
	DialTimeout     time.Duration        `yaml:"dial_timeout"`
	ReadTimeout     time.Duration        `yaml:"read_timeout"`
	WriteTimeout    time.Duration        `yaml:"write_timeout"`
	ConnMaxIdleTime time.Duration        `yaml:"conn_max_idle_time"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	FailureRatio float64       `yaml:"failure_ratio"`
	RecoveryTime time.Duration `yaml:"recovery_time"`
	MinRequests  uint64        `yaml:"min_requests"`
}

// RedisClient wraps redis.Client with JSON helpers, atomic counter
// scripts, span annotation, and an optional circuit breaker. The OTP and
// session Redis stores share one instance.
type RedisClient struct {
	*redis.Client
	config RedisConfig
	mu     sync.Mutex
	closed bool
	cb     *circuitBreaker
}

type circuitBreaker struct {
	mu           sync.Mutex
	state        string // closed, open, half-open
	failures     uint64
	successes    uint64
	total        uint64
	lastFailure  time.Time
	failureRatio float64
	recoveryTime time.Duration
	minRequests  uint64
}

// NewRedisClient connects and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10 * runtime.GOMAXPROCS(0)
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = cfg.PoolSize / 2
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = 5 * time.Minute
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Address,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		MaxRetries:      cfg.MaxRetries,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	c := &RedisClient{Client: rdb, config: cfg}
	if cfg.CircuitBreaker.Enabled {
		c.cb = &circuitBreaker{
			state:        "closed",
			failureRatio: cfg.CircuitBreaker.FailureRatio,
			recoveryTime: cfg.CircuitBreaker.RecoveryTime,
			minRequests:  cfg.CircuitBreaker.MinRequests,
		}
	}
	rdb.AddHook(spanHook{})

	logger.Infof("redis connected to %s (db %d)", cfg.Address, cfg.DB)
	return c, nil
}

func (c *RedisClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Client.Close()
}

// HealthCheck verifies connectivity, respecting the circuit breaker.
func (c *RedisClient) HealthCheck(ctx context.Context) error {
	if c.circuitOpen() {
		return fmt.Errorf("redis circuit breaker open")
	}
	if err := c.Ping(ctx).Err(); err != nil {
		c.recordFailure()
		return fmt.Errorf("redis health check: %w", err)
	}
	c.recordSuccess()
	return nil
}

// Do runs fn unless the circuit is open, and feeds the breaker with the
// outcome.
func (c *RedisClient) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.circuitOpen() {
		return fmt.Errorf("redis circuit breaker open")
	}
	err := fn(ctx)
	if err != nil && err != redis.Nil {
		c.recordFailure()
	} else {
		c.recordSuccess()
	}
	return err
}

// CircuitBreakerState reports closed, open, half-open, or disabled.
func (c *RedisClient) CircuitBreakerState() string {
	if c.cb == nil {
		return "disabled"
	}
	c.cb.mu.Lock()
	defer c.cb.mu.Unlock()
	return c.cb.state
}

// spanHook annotates active trace spans with command metadata. It never
// creates spans of its own.
type spanHook struct{}

func (spanHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (spanHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		span := trace.SpanFromContext(ctx)
		if span.IsRecording() {
			span.SetAttributes(
				attribute.String("db.system", "redis"),
				attribute.String("db.operation", cmd.Name()),
			)
		}
		err := next(ctx, cmd)
		if err != nil && err != redis.Nil && span.IsRecording() {
			span.RecordError(err)
		}
		return err
	}
}

func (spanHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		span := trace.SpanFromContext(ctx)
		if span.IsRecording() {
			span.SetAttributes(
				attribute.String("db.system", "redis"),
				attribute.String("db.operation", "pipeline"),
				attribute.Int("db.command_count", len(cmds)),
			)
		}
		err := next(ctx, cmds)
		if err != nil && err != redis.Nil && span.IsRecording() {
			span.RecordError(err)
		}
		return err
	}
}

func (c *RedisClient) circuitOpen() bool {
	if c.cb == nil {
		return false
	}
	c.cb.mu.Lock()
	defer c.cb.mu.Unlock()

	if c.cb.state == "open" {
		if time.Since(c.cb.lastFailure) > c.cb.recoveryTime {
			c.cb.state = "half-open"
			c.cb.failures, c.cb.successes, c.cb.total = 0, 0, 0
			logger.Warnf("redis circuit moving to half-open")
		} else {
			return true
		}
	}
	return false
}

func (c *RedisClient) recordFailure() {
	if c.cb == nil {
		return
	}
	c.cb.mu.Lock()
	defer c.cb.mu.Unlock()

	c.cb.failures++
	c.cb.total++
	c.cb.lastFailure = time.Now()

	if c.cb.state == "half-open" {
		c.cb.state = "open"
		logger.Errorf("redis circuit re-opened after failure")
		return
	}
	if c.cb.total >= c.cb.minRequests {
		ratio := float64(c.cb.failures) / float64(c.cb.total)
		if ratio >= c.cb.failureRatio {
			c.cb.state = "open"
			logger.Errorf("redis circuit opened, failure ratio %.2f", ratio)
		}
	}
}

func (c *RedisClient) recordSuccess() {
	if c.cb == nil {
		return
	}
	c.cb.mu.Lock()
	defer c.cb.mu.Unlock()

	c.cb.successes++
	c.cb.total++

	if c.cb.state == "half-open" && c.cb.successes >= c.cb.minRequests/2 {
		c.cb.state = "closed"
		c.cb.failures, c.cb.successes, c.cb.total = 0, 0, 0
		logger.Warnf("redis circuit closed")
	}
}

var incrWithTTL = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then
  redis.call("SET", KEYS[1], 0, "EX", ARGV[1])
end
return redis.call("INCR", KEYS[1])
`)

// IncrementWithTTL atomically increments key, starting the TTL on first
// touch only. Used for sliding counter windows.
func (c *RedisClient) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	val, err := incrWithTTL.Run(ctx, c.Client, []string{key}, int(ttl.Seconds())).Int64()
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	return val, nil
}

// SetJSON marshals value and stores it under key with ttl.
func (c *RedisClient) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl).Err()
}

// GetJSON loads key into dest. Returns redis.Nil when the key is absent.
func (c *RedisClient) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

// NewScript re-exports redis.NewScript so store packages do not import
// go-redis directly for script construction.
func NewScript(src string) *redis.Script {
	return redis.NewScript(src)
}
