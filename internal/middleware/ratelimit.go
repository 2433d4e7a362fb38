package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"farmgate/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	rateLimitKeyPrefix = "farmgate:ratelimit:"
	redisLimitTimeout  = 100 * time.Millisecond
	localIdleTTL       = 10 * time.Minute
)

// bucketScript is a token bucket kept in one hash per client.
// KEYS[1] bucket hash; ARGV rate/s, capacity, now (s, fractional), cost.
// Returns {allowed, remaining tokens (floored), retry after in ms}.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - ts) * rate)

local allowed = 0
local retry_ms = 0
if tokens >= cost then
    allowed = 1
    tokens = tokens - cost
    redis.call("HSET", key, "tokens", tokens, "ts", now)
    redis.call("EXPIRE", key, math.ceil(capacity / rate * 2))
else
    retry_ms = math.ceil((cost - tokens) / rate * 1000)
end

return { allowed, math.floor(tokens), retry_ms }
`)

type limitResult struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

// RateLimitMiddleware limits each client IP with a redis token bucket and
// falls back to a per-process limiter while redis is unavailable.
func RateLimitMiddleware(rdb redis.Scripter, requestsPerSecond int) gin.HandlerFunc {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	limit := strconv.Itoa(requestsPerSecond)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		c.Header("X-RateLimit-Limit", limit)

		res, err := redisAllow(c.Request.Context(), rdb, clientIP, requestsPerSecond)
		if err != nil {
			logger.Warn("redis rate limit failed, using local limiter",
				zap.Error(err),
				zap.String("ip", clientIP))
			res = localAllow(clientIP, requestsPerSecond)
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.remaining, 10))
		if !res.allowed {
			c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.retry).Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

func redisAllow(ctx context.Context, rdb redis.Scripter, ip string, rps int) (limitResult, error) {
	// the limiter must not hold a request up when redis is slow
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisLimitTimeout)
	defer cancel()

	now := float64(time.Now().UnixMicro()) / 1e6
	vals, err := bucketScript.Run(ctx, rdb, []string{rateLimitKeyPrefix + ip}, rps, rps, now, 1).Int64Slice()
	if err != nil {
		return limitResult{}, err
	}
	if len(vals) != 3 {
		// unexpected reply, let the request through
		logger.Error("invalid redis rate limit reply", zap.Int64s("reply", vals))
		return limitResult{allowed: true}, nil
	}
	return limitResult{
		allowed:   vals[0] == 1,
		remaining: vals[1],
		retry:     time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

type localLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

var (
	localLimiters sync.Map
	cleanupOnce   sync.Once
)

func startLocalCleanup() {
	cleanupOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(localIdleTTL)
			for range ticker.C {
				cutoff := time.Now().Add(-localIdleTTL).UnixNano()
				localLimiters.Range(func(key, value any) bool {
					if value.(*localLimiter).lastSeen.Load() < cutoff {
						localLimiters.Delete(key)
					}
					return true
				})
			}
		}()
	})
}

func localAllow(ip string, rps int) limitResult {
	startLocalCleanup()

	val, _ := localLimiters.LoadOrStore(ip, &localLimiter{limiter: rate.NewLimiter(rate.Limit(rps), rps)})
	l := val.(*localLimiter)
	l.lastSeen.Store(time.Now().UnixNano())

	if !l.limiter.Allow() {
		return limitResult{retry: time.Second}
	}
	return limitResult{allowed: true, remaining: int64(l.limiter.Tokens())}
}
