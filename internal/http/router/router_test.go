package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	apphttp "rebate_portal_backend/internal/http"
	"rebate_portal_backend/platform/config"
	"rebate_portal_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type echoModule struct{}

func (echoModule) Name() string { return "echo" }

func (echoModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/echo", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

func newTestApp(health apphttp.HealthChecker) *apphttp.App {
	return &apphttp.App{
		Config: &config.Config{
			JWTAccessSecret: "secret",
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimitRPS:    100,
			RateLimitBurst:  100,
		},
		Logger:  logger.NewWithWriter("test", io.Discard),
		Health:  health,
		Modules: []apphttp.Module{echoModule{}},
	}
}

func serve(engine *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	healthy := New(newTestApp(pingFunc(func(context.Context) error { return nil })))
	if rec := serve(healthy, "/api/health"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	down := New(newTestApp(pingFunc(func(context.Context) error { return errors.New("no route to host") })))
	if rec := serve(down, "/api/health"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := New(newTestApp(nil))

	if rec := serve(engine, "/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := New(newTestApp(nil))

	rec := serve(engine, "/api/v1/echo")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}
