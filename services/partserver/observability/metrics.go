// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

// Package observability provides Prometheus metrics for the part
// server. Metrics are exposed on /metrics via promhttp.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "aerie"

// Metrics holds the part server's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// RequestsTotal counts HTTP requests.
	// Labels: method, path (route template), status.
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures request latency.
	// Labels: method, path.
	RequestDurationSeconds *prometheus.HistogramVec

	// BackupsTotal counts backup runs. Labels: result (success, error).
	BackupsTotal *prometheus.CounterVec

	// BackupFilesGauge tracks how many backup files are retained.
	BackupFilesGauge prometheus.Gauge
}

// NewMetrics builds and registers all collectors on a private
// registry, keeping tests free of duplicate-registration panics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		RequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		BackupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "backups_total",
			Help:      "Database backup runs by result.",
		}, []string{"result"}),
		BackupFilesGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "backup_files",
			Help:      "Backup files currently retained.",
		}),
	}
	m.registry.MustRegister(
		m.RequestsTotal, m.RequestDurationSeconds, m.BackupsTotal,
		m.BackupFilesGauge,
	)
	return m
}

// RegisterDomainGauges exposes live part and Onshape session counts as
// gauges. The callbacks run when /metrics is scraped.
func (m *Metrics) RegisterDomainGauges(parts, onshapeSessions func() float64) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "parts",
			Help:      "Parts in the database.",
		}, parts),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "onshape_sessions",
			Help:      "Onshape sessions held in memory.",
		}, onshapeSessions),
	)
}

// ObserveBackup records one backup run.
func (m *Metrics) ObserveBackup(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.BackupsTotal.WithLabelValues(result).Inc()
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware instruments every request. The route template is used as
// the path label so /api/parts/42 does not explode cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
