package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so several instances can coexist in one process.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	pollsTotal        *prometheus.CounterVec
	pollDuration      prometheus.Histogram
	readingsLoaded    prometheus.Gauge
	latestTemperature prometheus.Gauge
	latestHumidity    prometheus.Gauge
	reportsTotal      *prometheus.CounterVec
	publishErrors     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thermowatch_polls_total",
			Help: "Fetches against the remote readings table by outcome.",
		}, []string{"outcome"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "thermowatch_poll_duration_seconds",
			Help:    "Histogram of remote fetch durations.",
			Buckets: prometheus.DefBuckets,
		}),
		readingsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thermowatch_readings_loaded",
			Help: "Number of readings currently held by the dashboard.",
		}),
		latestTemperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thermowatch_latest_temperature_celsius",
			Help: "Temperature of the most recent reading.",
		}),
		latestHumidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thermowatch_latest_humidity_percent",
			Help: "Humidity of the most recent reading.",
		}),
		reportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thermowatch_reports_total",
			Help: "Reports generated by format.",
		}, []string{"format"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermowatch_publish_errors_total",
			Help: "Failed attempts to publish readings to the broker.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.pollsTotal,
		m.pollDuration,
		m.readingsLoaded,
		m.latestTemperature,
		m.latestHumidity,
		m.reportsTotal,
		m.publishErrors,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency keyed by the matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) PollCompleted(duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.pollsTotal.WithLabelValues(outcome).Inc()
	m.pollDuration.Observe(duration.Seconds())
}

func (m *Metrics) ReadingsLoaded(n int, latestTemperature, latestHumidity float64) {
	if m == nil {
		return
	}
	m.readingsLoaded.Set(float64(n))
	if n > 0 {
		m.latestTemperature.Set(latestTemperature)
		m.latestHumidity.Set(latestHumidity)
	}
}

func (m *Metrics) ReportGenerated(format string) {
	if m == nil {
		return
	}
	m.reportsTotal.WithLabelValues(format).Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}
