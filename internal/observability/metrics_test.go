package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/tdispd/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	RecordFrame("in", true)
	SetTDIState("0x0000beef", 0)
}

func TestRecordDispatchCounts(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(dispatchRequests.WithLabelValues("0x00000a01", "STOP_INTERFACE", "ok"))
	RecordDispatch("0x00000a01", "STOP_INTERFACE", "ok", 40*time.Microsecond)
	RecordDispatch("0x00000a01", "STOP_INTERFACE", "ok", 40*time.Microsecond)
	after := testutil.ToFloat64(dispatchRequests.WithLabelValues("0x00000a01", "STOP_INTERFACE", "ok"))
	if after-before != 2 {
		t.Fatalf("expected 2 dispatches recorded, got %v", after-before)
	}
}

func TestRecordTransitionSetsGauge(t *testing.T) {
	testlog.Start(t)
	RecordTransition("0x00000a02", "lock", "CONFIG_UNLOCKED", "CONFIG_LOCKED", 1)
	if got := testutil.ToFloat64(tdiState.WithLabelValues("0x00000a02")); got != 1 {
		t.Fatalf("expected state gauge 1, got %v", got)
	}
}

func TestMiddlewareLabelsByRouteTemplate(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(&buf)), RequestMetricsMiddleware())
	r.GET("/things/:function_id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	counter := httpRequests.WithLabelValues("GET", "/things/:function_id", "418")
	before := testutil.ToFloat64(counter)
	for _, path := range []string{"/things/1", "/things/0x2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Fatalf("expected both paths under one label, got %v", got)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `"level":"warn"`) || !strings.Contains(lines[1], `"function_id":"0x2"`) {
		t.Fatalf("unexpected log lines: %q", lines)
	}
}

func TestLevelFor(t *testing.T) {
	testlog.Start(t)
	for status, want := range map[int]zerolog.Level{
		200: zerolog.InfoLevel,
		404: zerolog.WarnLevel,
		503: zerolog.ErrorLevel,
	} {
		if got := levelFor(status); got != want {
			t.Fatalf("status %d: expected %s, got %s", status, want, got)
		}
	}
}
