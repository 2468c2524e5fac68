package log

import (
	"context"
	"io"
	"log/slog"

	"github.com/go-logr/logr"
	"github.com/samber/lo"
)

var discardLogger = New(io.Discard, false)

// New returns a JSON logger without timestamps. Timestamps are added by
// whatever collects stderr (journald, CloudWatch).
func New(w io.Writer, debug bool) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lo.Ternary(debug, slog.LevelDebug, slog.LevelInfo),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return lo.Ternary(a.Key == slog.TimeKey, slog.Attr{}, a)
		},
	}))
}

// NewContext stores logger in ctx. The logger is visible both to
// FromContextOrDiscard and to logr.FromContextOrDiscard.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return logr.NewContextWithSlogLogger(ctx, logger)
}

func FromContextOrDiscard(ctx context.Context) *slog.Logger {
	if v := logr.FromContextAsSlogLogger(ctx); v != nil {
		return v
	}
	return discardLogger
}
