package util

import "context"

type contextKey string

const reasonKey contextKey = "reason"

// WithReason attaches the reason behind an engine-affecting operation to
// the context. The reset manager sets it before calling the engine so
// engine-side logs can name what triggered the call.
func WithReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, reasonKey, reason)
}

// GetReason retrieves the operation reason from the context, or "" when
// none was attached.
func GetReason(ctx context.Context) string {
	if reason, ok := ctx.Value(reasonKey).(string); ok {
		return reason
	}
	return ""
}
