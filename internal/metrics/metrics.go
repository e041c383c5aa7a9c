// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanvault_http_requests_total",
			Help: "Total HTTP requests handled by the ScanVault API.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scanvault_http_request_duration_seconds",
			Help:    "Duration of ScanVault API requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScansSubmitted counts upload attempts by result: ok or the error code.
	ScansSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanvault_scans_submitted_total",
			Help: "Scan submissions by result.",
		},
		[]string{"result"},
	)

	// ReportsGenerated counts exported reports by image outcome.
	ReportsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanvault_reports_generated_total",
			Help: "Generated scan reports by image outcome (embedded, unavailable).",
		},
		[]string{"image"},
	)

	// RolesProvisioned counts first-login role provisioning by role.
	RolesProvisioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanvault_roles_provisioned_total",
			Help: "Roles provisioned on first observed login.",
		},
		[]string{"role"},
	)

	// UploadVerifications counts post-upload verification outcomes.
	UploadVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanvault_upload_verifications_total",
			Help: "Upload verification results (ok, mismatch, unreadable, error).",
		},
		[]string{"result"},
	)
)
