package simulate

import (
	"github.com/ValentinKolb/genms/lib/collector"
	"net/http"
	"time"
)

// newMetricsServer creates the HTTP server exposing the collector's metrics
// in the Prometheus text format on GET /metrics
func newMetricsServer(endpoint string, c *collector.Collector, debug bool) *http.Server {
	mux := http.NewServeMux()

	handler := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		c.WritePrometheus(w)
	}

	// Register handler
	if debug {
		mux.HandleFunc("GET /metrics", loggerMiddleware(handler))
	} else {
		mux.HandleFunc("GET /metrics", handler)
	}

	return &http.Server{Addr: endpoint, Handler: mux}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Process request
		next.ServeHTTP(rw, r)

		// Log the request
		duration := time.Since(start)
		collector.Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, duration)
	}
}
