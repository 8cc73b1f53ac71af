package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"

	"github.com/changetrail/changetrail/internal/telemetry"
)

func counterValue(t *testing.T, method, path, status string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := telemetry.HTTPRequestsTotal.GetMetricWithLabelValues(method, path, status)
	if err != nil {
		t.Fatalf("get metric: %v", err)
	}
	if err := c.Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetrics_UsesRouteTemplateLabel(t *testing.T) {
	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/v1/admin/logs/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := counterValue(t, "GET", "/api/v1/admin/logs/:id", "200")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/logs/42", nil))

	after := counterValue(t, "GET", "/api/v1/admin/logs/:id", "200")
	if after != before+1 {
		t.Errorf("counter went %v -> %v, want +1 on the route template label", before, after)
	}
}

func TestMetrics_UnmatchedRouteUsesPlaceholder(t *testing.T) {
	r := gin.New()
	r.Use(Metrics())

	before := counterValue(t, "GET", "<no-route>", "404")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	after := counterValue(t, "GET", "<no-route>", "404")
	if after != before+1 {
		t.Errorf("counter went %v -> %v, want +1 on <no-route>", before, after)
	}
}
