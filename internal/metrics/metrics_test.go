package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_Exposition(t *testing.T) {
	m := New()
	m.PollCompleted(120*time.Millisecond, nil)
	m.PollCompleted(time.Second, errors.New("boom"))
	m.ReadingsLoaded(10, 29.5, 71)
	m.ReportGenerated("pdf")
	m.PublishFailed()

	out := scrape(t, m)
	for _, want := range []string{
		`thermowatch_polls_total{outcome="success"} 1`,
		`thermowatch_polls_total{outcome="error"} 1`,
		`thermowatch_readings_loaded 10`,
		`thermowatch_latest_temperature_celsius 29.5`,
		`thermowatch_reports_total{format="pdf"} 1`,
		`thermowatch_publish_errors_total 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.ReportGenerated("csv")
	if strings.Contains(scrape(t, b), `format="csv"`) {
		t.Error("metrics leaked between instances")
	}
}

func TestMetrics_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/v1/readings", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/readings", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	out := scrape(t, m)
	if !strings.Contains(out, `http_requests_total{route="/api/v1/readings",status="200"} 1`) {
		t.Error("route counter not recorded")
	}
	if !strings.Contains(out, `http_requests_total{route="unmatched",status="404"} 1`) {
		t.Error("unmatched route not recorded")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.PollCompleted(time.Second, nil)
	m.ReadingsLoaded(1, 1, 1)
	m.ReportGenerated("pdf")
	m.PublishFailed()
}
