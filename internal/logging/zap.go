package logging

import (
	"context"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Logger = (*zapper)(nil)

// zapper adapts a *zap.Logger to the Logger interface. The context is
// only consulted for a request ID.
type zapper struct {
	l *zap.Logger
}

// NewZap wraps an existing zap core.
func NewZap(core zapcore.Core, addCaller bool) Logger {
	opts := []zap.Option{}
	if addCaller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	return &zapper{l: zap.New(core, opts...)}
}

func newZapCore(w io.Writer, level string) zapcore.Core {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), zapLevel(level))
}

func zapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *zapper) With(fields ...Field) Logger {
	return &zapper{l: z.l.With(toZap(nil, fields)...)}
}

func (z *zapper) Debug(ctx context.Context, msg string, fields ...Field) {
	z.l.Debug(msg, toZap(ctx, fields)...)
}

func (z *zapper) Info(ctx context.Context, msg string, fields ...Field) {
	z.l.Info(msg, toZap(ctx, fields)...)
}

func (z *zapper) Warn(ctx context.Context, msg string, fields ...Field) {
	z.l.Warn(msg, toZap(ctx, fields)...)
}

func (z *zapper) Error(ctx context.Context, msg string, fields ...Field) {
	z.l.Error(msg, toZap(ctx, fields)...)
}

func toZap(ctx context.Context, fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	if id := RequestIDFromContext(ctx); id != "" {
		out = append(out, zap.String("request_id", id))
	}
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
