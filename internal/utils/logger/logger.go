package logutils

import (
	"context"

	"github.com/ZhenchangMin/AI-study-copilot/internal/constants"
	"github.com/ZhenchangMin/AI-study-copilot/internal/server/logger"
)

// FromContext retrieves the logger from the context, or logger.Fallback when
// none was attached
func FromContext(ctx context.Context) *logger.Logger {
	if lgr, ok := ctx.Value(constants.LoggerKey).(*logger.Logger); ok && lgr != nil {
		return lgr
	}
	return logger.Fallback
}

// ContextWithLogger adds a logger to the context
func ContextWithLogger(ctx context.Context, lgr *logger.Logger) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, lgr)
}
