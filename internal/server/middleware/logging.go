package middleware

import (
	"net/http"
	"time"

	logutils "github.com/ZhenchangMin/AI-study-copilot/internal/utils/logger"
	"github.com/go-chi/chi/v5"
)

type responseWriter struct {
	http.ResponseWriter
	status        int
	size          int
	headerWritten bool
}

func (rw *responseWriter) WriteHeader(status int) {
	if !rw.headerWritten {
		rw.status = status
		rw.headerWritten = true
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	// Note the contract from the underlying ResponseWriter interface that
	// "If [ResponseWriter.WriteHeader] has not yet been called, Write calls
	// WriteHeader(http.StatusOK) before writing the data."
	// and set our internal status appropriately
	if !rw.headerWritten {
		rw.status = http.StatusOK
		rw.headerWritten = true
	}
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// withLogging logs request and response details
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create wrapped response writer to capture status and size
		wrapped := &responseWriter{
			ResponseWriter: w,
			status:         http.StatusInternalServerError,
		}

		next.ServeHTTP(wrapped, r)

		// chi fills in the matched pattern while routing
		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}

		ctx := r.Context()
		logutils.FromContext(ctx).Infof(ctx, "Request: %s %s // Response: %d %s %d bytes %v",
			r.Method,
			pattern,
			wrapped.status,
			http.StatusText(wrapped.status),
			wrapped.size,
			time.Since(start),
		)
	})
}
