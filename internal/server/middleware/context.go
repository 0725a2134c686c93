package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/ZhenchangMin/AI-study-copilot/internal/utils"
	contextutils "github.com/ZhenchangMin/AI-study-copilot/internal/utils/context"
	logutils "github.com/ZhenchangMin/AI-study-copilot/internal/utils/logger"
)

const RequestIDHeader = "X-Request-ID"

// withContext takes the server's context including its logger, injects a request ID and
// timeout, and sets it as the request's context.
func withContext(ctx context.Context, timeout time.Duration) func(http.Handler) http.Handler {
	lgr := logutils.FromContext(ctx)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqCtx := r.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				reqCtx, cancel = context.WithTimeout(reqCtx, timeout)
				defer cancel()
			}

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = utils.GenerateRequestID()
			}
			reqCtx = contextutils.WithRequestID(reqCtx, requestID)
			reqCtx = logutils.ContextWithLogger(reqCtx, lgr)
			w.Header().Set(RequestIDHeader, requestID)

			next.ServeHTTP(w, r.WithContext(reqCtx))
		})
	}
}
