package relay

import (
	"context"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/kiki/internal/errors"
	"github.com/diogo/kiki/internal/logger"
)

func TestRecovery(t *testing.T) {
	h := server.New()
	h.Use(Recovery(logger.Discard()))
	h.GET("/boom", func(ctx context.Context, c *app.RequestContext) {
		panic("boom")
	})

	resp := ut.PerformRequest(h.Engine, "GET", "/boom", nil).Result()
	if resp.StatusCode() != 500 {
		t.Errorf("status = %d", resp.StatusCode())
	}
	if typ := gjson.GetBytes(resp.Body(), "error.type").String(); typ != apierrors.TypeInternal {
		t.Errorf("type = %s", typ)
	}
}

func TestRequestLoggerAssignsID(t *testing.T) {
	h := server.New()
	h.Use(RequestLogger(logger.Discard()))
	var seen string
	h.GET("/x", func(ctx context.Context, c *app.RequestContext) {
		seen = RequestID(c)
		if logger.FromContext(ctx) == nil {
			t.Error("no logger in context")
		}
		c.String(200, "ok")
	})

	resp := ut.PerformRequest(h.Engine, "GET", "/x", nil).Result()
	id := resp.Header.Get(RequestIDHeader)
	if id == "" || id != seen {
		t.Errorf("request id = %q, handler saw %q", id, seen)
	}

	resp = ut.PerformRequest(h.Engine, "GET", "/x", nil, ut.Header{Key: RequestIDHeader, Value: "given"}).Result()
	if resp.Header.Get(RequestIDHeader) != "given" {
		t.Errorf("incoming request id not kept: %s", resp.Header.Get(RequestIDHeader))
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "http://a.test", "*"},
		{"listed", []string{"http://a.test"}, "http://a.test", "http://a.test"},
		{"unlisted", []string{"http://a.test"}, "http://b.test", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := server.New()
			h.Use(CORS(tt.origins))
			h.GET("/x", func(ctx context.Context, c *app.RequestContext) { c.String(200, "ok") })

			resp := ut.PerformRequest(h.Engine, "GET", "/x", nil, ut.Header{Key: "Origin", Value: tt.origin}).Result()
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}

	h := server.New()
	h.Use(CORS([]string{"*"}))
	h.POST("/x", func(ctx context.Context, c *app.RequestContext) { c.String(200, "ok") })
	resp := ut.PerformRequest(h.Engine, "OPTIONS", "/x", nil).Result()
	if resp.StatusCode() != 204 {
		t.Errorf("preflight status = %d", resp.StatusCode())
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow("a") {
		t.Error("third request within the same instant should be limited")
	}
	if !rl.Allow("b") {
		t.Error("other IPs have their own bucket")
	}

	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Error("bucket should refill after a second")
	}
}

func TestRateLimiterForgetsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(rl.ttl + time.Second)
	rl.Allow("b")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["a"]; ok {
		t.Error("idle visitor not collected")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := server.New()
	h.Use(onlyAPI(RateLimit(NewRateLimiter(0.001, 1))))
	h.GET("/api/x", func(ctx context.Context, c *app.RequestContext) { c.String(200, "ok") })
	h.GET("/health", func(ctx context.Context, c *app.RequestContext) { c.String(200, "ok") })

	if resp := ut.PerformRequest(h.Engine, "GET", "/api/x", nil).Result(); resp.StatusCode() != 200 {
		t.Fatalf("first status = %d", resp.StatusCode())
	}
	resp := ut.PerformRequest(h.Engine, "GET", "/api/x", nil).Result()
	if resp.StatusCode() != 429 {
		t.Errorf("second status = %d", resp.StatusCode())
	}
	if typ := gjson.GetBytes(resp.Body(), "error.type").String(); typ != apierrors.TypeRateLimit {
		t.Errorf("type = %s", typ)
	}

	for i := 0; i < 3; i++ {
		if resp := ut.PerformRequest(h.Engine, "GET", "/health", nil).Result(); resp.StatusCode() != 200 {
			t.Errorf("health limited: %d", resp.StatusCode())
		}
	}
}
