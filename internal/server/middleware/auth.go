package middleware

import (
	"net/http"
	"strings"

	"github.com/ZhenchangMin/AI-study-copilot/internal/utils"
	logutils "github.com/ZhenchangMin/AI-study-copilot/internal/utils/logger"
)

// RequireApiKey rejects requests whose bearer token does not match apikey.
// An empty apikey disables the check.
func RequireApiKey(apikey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apikey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// TODO: add support for API key in custom header
			provided := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

			if provided == "" {
				logutils.FromContext(ctx).Warn(ctx, "No API Key provided")
				http.Error(w, "Missing API key", http.StatusUnauthorized)
				return
			}

			if !utils.SecureCompareString(provided, apikey) {
				logutils.FromContext(ctx).Warn(ctx, "Invalid API Key provided")
				http.Error(w, "Invalid API key", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
