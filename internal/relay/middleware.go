package relay

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apierrors "github.com/diogo/kiki/internal/errors"
	"github.com/diogo/kiki/internal/logger"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Recovery turns a panicking handler into a 500 envelope.
func Recovery(log *slog.Logger) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					"request_id", RequestID(c),
					"method", string(c.Method()),
					"path", string(c.Path()),
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
				)
				status, body := envelope(nil)
				c.AbortWithStatusJSON(status, body)
			}
		}()
		c.Next(ctx)
	}
}

// RequestLogger assigns a request id, stores a tagged logger in the context
// and logs each request once it completes.
func RequestLogger(log *slog.Logger) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		path := string(c.Path())

		requestID := string(c.Request.Header.Peek(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Response.Header.Set(RequestIDHeader, requestID)

		reqLog := logger.WithRequestID(log, requestID).With(
			"method", string(c.Method()),
			"path", path,
			"client_ip", c.ClientIP(),
		)

		c.Next(logger.WithContext(ctx, reqLog))

		if path == "/health" {
			return
		}
		status := c.Response.StatusCode()
		latency := time.Since(start)
		attrs := []any{"status", status, "latency_ms", latency.Milliseconds()}
		switch {
		case status >= 500:
			reqLog.Error("request completed with server error", attrs...)
		case status >= 400:
			reqLog.Warn("request completed with client error", attrs...)
		default:
			reqLog.Info("request completed", attrs...)
		}
	}
}

// RequestID returns the id assigned by RequestLogger.
func RequestID(c *app.RequestContext) string {
	return string(c.Response.Header.Peek(RequestIDHeader))
}

// CORS allows the configured origins. "*" allows any origin.
func CORS(origins []string) app.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(ctx context.Context, c *app.RequestContext) {
		origin := string(c.Request.Header.Peek("Origin"))
		switch {
		case allowAll:
			c.Response.Header.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Response.Header.Set("Access-Control-Allow-Origin", origin)
			c.Response.Header.Set("Vary", "Origin")
		}
		c.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)
		c.Response.Header.Set("Access-Control-Expose-Headers", RequestIDHeader)
		c.Response.Header.Set("Access-Control-Max-Age", "86400")

		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	lastGC   time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond requests per IP with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		ttl:      10 * time.Minute,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Allow reports whether ip may make a request now.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastGC) > rl.ttl {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lastGC = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RateLimit rejects requests over the per-IP budget with a 429 envelope.
func RateLimit(rl *RateLimiter) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Response.Header.Set("X-RateLimit-Limit", strconv.FormatFloat(float64(rl.limit), 'f', -1, 64))
		ip := c.ClientIP()
		if !rl.Allow(ip) {
			logger.FromContext(ctx).Warn("rate limit exceeded", "ip", ip)
			c.Response.Header.Set("Retry-After", "1")
			c.AbortWithStatusJSON(consts.StatusTooManyRequests, ErrorBody{Error: ErrorDetail{
				Message: "Too many requests, slow down",
				Type:    apierrors.TypeRateLimit,
			}})
			return
		}
		c.Next(ctx)
	}
}

// onlyAPI applies mw to /api routes.
func onlyAPI(mw app.HandlerFunc) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if !strings.HasPrefix(string(c.Path()), "/api/") {
			c.Next(ctx)
			return
		}
		mw(ctx, c)
	}
}
