package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/reportgate/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("gateway-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordSubmission(OutcomeOK, 24*time.Millisecond)
	release := TrackGatewayConnection("gateway-a")
	release()
}

func TestRecordGatewayStreamCountsByOutcome(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(gatewayStreams.WithLabelValues("gateway-metrics", OutcomeInvalidEvent))
	RecordGatewayStream("gateway-metrics", OutcomeInvalidEvent, time.Millisecond)
	RecordGatewayStream("gateway-metrics", OutcomeInvalidEvent, time.Millisecond)
	after := testutil.ToFloat64(gatewayStreams.WithLabelValues("gateway-metrics", OutcomeInvalidEvent))
	if after-before != 2 {
		t.Fatalf("expected 2 increments, got %v", after-before)
	}
}

func TestTrackGatewayConnectionGauge(t *testing.T) {
	testlog.Start(t)
	gauge := gatewayConnections.WithLabelValues("gateway-gauge")
	release := TrackGatewayConnection("gateway-gauge")
	if got := testutil.ToFloat64(gauge); got != 1 {
		t.Fatalf("expected 1 active connection, got %v", got)
	}
	release()
	if got := testutil.ToFloat64(gauge); got != 0 {
		t.Fatalf("expected 0 active connections, got %v", got)
	}
}

func TestRequestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zerolog.Nop()))
	r.Use(RequestMetricsMiddleware("gateway-mw"))
	r.GET("/reports/:call_id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	counter := httpRequests.WithLabelValues("gateway-mw", "GET", "/reports/:call_id", "204")
	before := testutil.ToFloat64(counter)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/abc", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Fatalf("expected one recorded request, got %v", got)
	}
}
