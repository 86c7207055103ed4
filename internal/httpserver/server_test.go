package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	cfgpkg "github.com/taoyao-code/rfid-server/internal/config"
	appmetrics "github.com/taoyao-code/rfid-server/internal/metrics"
)

func newTestServer(ready bool) *Server {
	cfg := cfgpkg.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second}
	reg := appmetrics.NewRegistry()
	handler := appmetrics.Handler(reg)
	return New(cfg, "/metrics", handler, func() bool { return ready })
}

func TestHealthzReadyzMetrics(t *testing.T) {
	srv := newTestServer(true)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		srv.srv.Handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s code=%d", path, rr.Code)
		}
	}
}

func TestReadyzNotReady(t *testing.T) {
	srv := newTestServer(false)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	srv.srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz not-ready code=%d", rr.Code)
	}
}

func TestRegisterExtraRoutes(t *testing.T) {
	srv := newTestServer(true)
	srv.Register(func(r *gin.Engine) {
		r.GET("/statusz", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"state": "Connected"})
		})
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/statusz", nil)
	srv.srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("/statusz code=%d", rr.Code)
	}
}
