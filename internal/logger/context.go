package logger

import "context"

type contextKey struct{}

// LogContext holds request-scoped logging fields.
type LogContext struct {
	UID uint32
	GID uint32
	PID uint32
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}
	out := make([]any, 0, 6+len(args))
	out = append(out, KeyUID, lc.UID, KeyGID, lc.GID)
	if lc.PID != 0 {
		out = append(out, KeyPID, lc.PID)
	}
	return append(out, args...)
}
