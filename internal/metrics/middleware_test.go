package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/api/v1/scans": "/api/v1/scans",
		"/api/v1/scans/0b7f5a8e-1c1e-4c55-9a57-3c2f1f0e9a11/report": "/api/v1/scans/{id}/report",
		"/api/v1/scans/abc":                                         "/api/v1/scans/{id}",
		"/blobs/scans/20240101T000000Z-x.jpg":                       "/blobs/{key}",
		"/healthz":                                                  "/healthz",
		"/wp-admin":                                                 "other",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePath(in), in)
	}
}

func TestMiddlewareCountsStatus(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "418"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "418"))
	assert.Equal(t, before+1, after)
}
