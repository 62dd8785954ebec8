package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"signalpush/pkg/logger"
	"signalpush/pkg/rbac"
	"signalpush/pkg/trace"
	"signalpush/pkg/util"
)

const (
	ctxKeyRole    = "role"
	ctxKeySubject = "subject"

	HeaderIdempotencyKey = "Idempotency-Key"

	idempotencyScope = "notifications"
)

// CORSMiddleware sets permissive CORS headers on every response and answers
// preflight requests with 200.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Content-Type", "application/json")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// TraceMiddleware reuses the caller's X-Trace-ID or generates one, and
// echoes it on the response.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(trace.HeaderName())
		if traceID == "" {
			traceID = trace.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName(), traceID)
		c.Next()
	}
}

// RecoveryMiddleware turns a panic into the generic 500 JSON body.
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.WithTrace(c.Request.Context(), log).Error("Panic while handling request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered),
			zap.Stack("stack"),
		)
		abortWithError(c, http.StatusInternalServerError, errProcessing, fmt.Sprint(recovered))
	})
}

// RequestLogger writes one access log line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithTrace(c.Request.Context(), log).Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// AuthMiddleware requires a valid bearer token and stores its role.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}

		claims, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "Unauthorized", "invalid token")
			return
		}

		c.Set(ctxKeyRole, claims.Role)
		c.Set(ctxKeySubject, claims.Subject)
		c.Next()
	}
}

// RequirePermission 中间件：要求调用方角色具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ctxKeyRole)
		if role == "" {
			abortWithError(c, http.StatusUnauthorized, "Unauthorized", "caller not authenticated")
			return
		}

		if err := rbac.CheckPermission(role, permission); err != nil {
			abortWithError(c, http.StatusForbidden, "Forbidden", err.Error())
			return
		}
		c.Next()
	}
}

// IdempotencyMiddleware rejects a repeated Idempotency-Key with 409. A key
// whose request failed is released so the caller may retry with it.
func IdempotencyMiddleware(deduper *util.Deduper) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		if !deduper.AcquireOnce(c.Request.Context(), idempotencyScope, key) {
			abortWithError(c, http.StatusConflict, "Duplicate request", "Idempotency-Key has already been used")
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			deduper.Release(c.Request.Context(), idempotencyScope, key)
		}
	}
}

// limiterIdleTTL is how long an IP may stay silent before its bucket is dropped.
// An idle bucket is full again by then, so dropping it changes nothing.
const limiterIdleTTL = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client IP.
type IPRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewIPRateLimiter allows perMinute requests per IP with a burst of the same size.
func NewIPRateLimiter(perMinute int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*ipLimiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		now:      time.Now,
	}
}

func (l *IPRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= limiterIdleTTL {
		for key, entry := range l.limiters {
			if now.Sub(entry.lastSeen) > limiterIdleTTL {
				delete(l.limiters, key)
			}
		}
		l.lastSweep = now
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Len is the number of IPs currently tracked.
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Allow reports whether ip may make a request now.
func (l *IPRateLimiter) Allow(ip string) bool {
	return l.get(ip).AllowN(l.now(), 1)
}

// RateLimitMiddleware limits requests per IP address.
func RateLimitMiddleware(limiter *IPRateLimiter, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			logger.WithTrace(c.Request.Context(), log).Warn("Rate limit exceeded", zap.String("ip", ip))
			c.Header("Retry-After", strconv.Itoa(1))
			abortWithError(c, http.StatusTooManyRequests, "Rate limit exceeded", "Try again later")
			return
		}
		c.Next()
	}
}
