package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry               *prometheus.Registry
	uploadsTotal           *prometheus.CounterVec
	uploadDuration         *prometheus.HistogramVec
	activeUploads          prometheus.Gauge
	bytesSavedTotal        prometheus.Counter
	formatConversionsTotal prometheus.Counter
	altTextGeneratedTotal  prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imageship_worker_uploads_total",
			Help: "Total upload jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		uploadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imageship_worker_upload_duration_seconds",
			Help:    "Total processing duration for each upload job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeUploads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imageship_worker_active_uploads",
			Help: "Current number of upload jobs being processed.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imageship_optimize_bytes_saved_total",
			Help: "Total bytes removed by format optimization across uploads.",
		}),
		formatConversionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imageship_optimize_format_conversions_total",
			Help: "Uploads whose stored format differs from the source format.",
		}),
		altTextGeneratedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imageship_alttext_generated_total",
			Help: "Alt text descriptions generated successfully.",
		}),
	}

	registry.MustRegister(
		m.uploadsTotal,
		m.uploadDuration,
		m.activeUploads,
		m.bytesSavedTotal,
		m.formatConversionsTotal,
		m.altTextGeneratedTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
