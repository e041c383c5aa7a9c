package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Middleware records request counts and durations per normalized path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := NormalizePath(r.URL.Path)

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// NormalizePath collapses ids and blob keys so label cardinality stays bounded.
//
//	/api/v1/scans/<uuid>/report -> /api/v1/scans/{id}/report
//	/blobs/scans/<key>          -> /blobs/{key}
func NormalizePath(path string) string {
	switch path {
	case "/healthz", "/readyz", "/metrics", "/api/v1/me", "/api/v1/scans":
		return path
	}
	if strings.HasPrefix(path, "/blobs/") {
		return "/blobs/{key}"
	}
	const scans = "/api/v1/scans/"
	if strings.HasPrefix(path, scans) {
		rest := strings.TrimPrefix(path, scans)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return scans + "{id}" + rest[i:]
		}
		return scans + "{id}"
	}
	return "other"
}
