package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newLimitedRouter(now *time.Time) *gin.Engine {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(func() time.Time { return *now })

	r := gin.New()
	r.Use(Auth("dev"))
	r.Use(RateLimit(RateLimitConfig{
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method == http.MethodGet {
				return "READ"
			}
			return ""
		},
		Limiter: limiter,
		Rules: map[string]RateLimitRule{
			defaultRateLimitGroup: PerSecond(1, 2),
		},
	}))
	r.POST("/api/v1/routing/classify", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/api/v1/routing/classify", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func serveAs(r *gin.Engine, method, team string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/v1/routing/classify", nil)
	req.Header.Set("X-Team-Id", team)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRateLimitPerTeam(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	r := newLimitedRouter(&now)

	for i := 0; i < 2; i++ {
		if resp := serveAs(r, http.MethodPost, "team-1"); resp.Code != http.StatusOK {
			t.Fatalf("burst request %d expected 200, got %d", i, resp.Code)
		}
	}
	if resp := serveAs(r, http.MethodPost, "team-2"); resp.Code != http.StatusOK {
		t.Fatalf("other team expected 200, got %d", resp.Code)
	}
	resp := serveAs(r, http.MethodPost, "team-1")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("request over burst expected 429, got %d", resp.Code)
	}
	if got := resp.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After 1, got %q", got)
	}
	var payload struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %q", payload.Error.Code)
	}
	if _, ok := payload.Error.Details["retryAfterMs"]; !ok {
		t.Fatalf("expected retryAfterMs in details")
	}

	for i := 0; i < 3; i++ {
		if resp := serveAs(r, http.MethodGet, "team-1"); resp.Code != http.StatusOK {
			t.Fatalf("group without a rule expected 200, got %d", resp.Code)
		}
	}

	now = now.Add(time.Second)
	if resp := serveAs(r, http.MethodPost, "team-1"); resp.Code != http.StatusOK {
		t.Fatalf("request after refill expected 200, got %d", resp.Code)
	}
}

func TestRateLimiterRejectionDoesNotSpendTokens(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(func() time.Time { return now })
	rule := PerSecond(1, 1)

	if ok, _ := l.Allow("k", rule); !ok {
		t.Fatalf("first call expected to pass")
	}
	for i := 0; i < 5; i++ {
		ok, wait := l.Allow("k", rule)
		if ok || wait <= 0 || wait > time.Second {
			t.Fatalf("expected rejection with wait in (0,1s], got ok=%v wait=%v", ok, wait)
		}
	}
	now = now.Add(time.Second)
	if ok, _ := l.Allow("k", rule); !ok {
		t.Fatalf("rejected calls must not push back the refill")
	}
}

func TestRateLimiterZeroRuleAllows(t *testing.T) {
	l := NewRateLimiter(nil)
	for i := 0; i < 5; i++ {
		if ok, _ := l.Allow("k", PerSecond(0, 0)); !ok {
			t.Fatalf("expected zero rule to allow")
		}
	}
}
