package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pwviptbl/AI-English-Mentor/internal/config"
	"github.com/pwviptbl/AI-English-Mentor/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newUserRouter(resolver UserResolver) *gin.Engine {
	r := gin.New()
	r.GET("/v1/whoami", UserMiddleware(resolver), func(c *gin.Context) {
		u, _ := CurrentUser(c)
		c.JSON(http.StatusOK, u)
	})
	return r
}

func TestUserMiddlewareRejectsAnonymous(t *testing.T) {
	r := newUserRouter(NewHeaderResolver(nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestUserMiddlewareResolvesHeaders(t *testing.T) {
	resolver := NewHeaderResolver(nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	req.Header.Set("X-User-Id", "u42")
	req.Header.Set("X-User-Name", "Ana")
	req.Header.Set("X-User-Tier", "pro")

	u, err := resolver.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if u.ID != "u42" || u.FullName != "Ana" || u.Tier != "pro" {
		t.Fatalf("Resolve() = %+v", u)
	}
}

func TestUserMiddlewareBearerToken(t *testing.T) {
	resolver := NewHeaderResolver(nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer u7")

	u, err := resolver.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if u.ID != "u7" {
		t.Fatalf("ID = %q, want u7", u.ID)
	}
	if u.Tier != "free" {
		t.Fatalf("Tier = %q, want free default", u.Tier)
	}
}

type staticResolver struct{ u types.User }

func (s staticResolver) Resolve(ctx context.Context, r *http.Request) (types.User, error) {
	return s.u, nil
}

func TestCurrentUserRoundTrip(t *testing.T) {
	r := newUserRouter(staticResolver{u: types.User{ID: "u1", Tier: "pro"}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func testEnvConfig(limit int) *config.EnvConfig {
	return &config.EnvConfig{
		EnableRateLimit:   true,
		RateLimitAuth:     limit,
		RateLimitChat:     limit,
		RateLimitAnalysis: limit,
		RateLimitWindow:   60,
	}
}

func TestEndpointLimiterBlocksOverLimit(t *testing.T) {
	el := NewEndpointLimiter(testEnvConfig(2))

	r := gin.New()
	r.GET("/v1/chat", el.Middleware("chat"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
}

func TestEndpointLimiterIndependentEndpoints(t *testing.T) {
	el := NewEndpointLimiter(testEnvConfig(1))

	r := gin.New()
	r.GET("/v1/chat", el.Middleware("chat"), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/v1/analysis", el.Middleware("analysis"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("chat status = %d, want 200", w.Code)
	}

	// The analysis bucket is separate from the exhausted chat bucket.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/analysis", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("analysis status = %d, want 200", w.Code)
	}
}

func TestEndpointLimiterDisabled(t *testing.T) {
	cfg := testEnvConfig(0)
	cfg.EnableRateLimit = false
	el := NewEndpointLimiter(cfg)

	r := gin.New()
	r.GET("/v1/chat", el.Middleware("chat"), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("disabled limiter blocked request %d", i+1)
		}
	}
}
