package fieldtrail

import (
	"context"
	"log/slog"
)

// skipKey and loggerKey are unexported context key types.
type skipKey struct{}
type loggerKey struct{}

// WithSkip marks the context so SaveChanges commits host rows without
// writing any audit records.
func WithSkip(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipKey{}, true)
}

// WithLogger overrides the handler's logger for calls made with ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// extractSkip extracts skip flag from context.
func extractSkip(ctx context.Context) bool {
	if v, ok := ctx.Value(skipKey{}).(bool); ok {
		return v
	}
	return false
}

func (h *Handler) logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return h.cfg.Logger
}
