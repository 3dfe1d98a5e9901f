package ingest

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var webhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhooks_received_total",
	Help: "The number of webhook deliveries accepted and stored",
}, []string{"source", "event_type"})

var webhooksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhooks_rejected_total",
	Help: "The number of webhook deliveries rejected before storage",
}, []string{"source", "reason"})

var projectionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "projections_finished_total",
	Help: "The number of background projections that finished",
}, []string{"source", "outcome"})

var projectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "projection_duration_seconds",
	Help:    "The duration of a background projection",
	Buckets: prometheus.DefBuckets,
}, []string{"source"})

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_requests_total",
	Help: "The number of HTTP requests handled",
}, []string{"method", "path", "status"})

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "http_request_duration_seconds",
	Help:    "The duration of HTTP request handling",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "path"})

// MetricsMiddleware records request counts and durations per route.
func MetricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		path := c.Path()
		if path == "" {
			path = c.Request().URL.Path
		}

		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
		}

		requestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())

		return err
	}
}
