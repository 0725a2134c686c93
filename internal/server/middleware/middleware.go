package middleware

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
)

type Params struct {
	Timeout        time.Duration
	AllowedOrigins []string
}

// Use installs the server-wide middlewares on r. chi runs them in the order
// they are registered, so the request context is prepared before anything
// logs and CORS preflights are answered before routing.
func Use(ctx context.Context, r chi.Router, params Params) {
	r.Use(
		withContext(ctx, params.Timeout),
		withLogging,
		withCors(params.AllowedOrigins),
	)
}
