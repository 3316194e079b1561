package id

import "context"

type contextKey string

const (
	runKey       contextKey = "ferry_run_id"
	iterationKey contextKey = "ferry_iteration_id"
)

// WithRunID stores the current pipeline run identifier on the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runKey, runID)
}

// RunIDFromContext returns the run identifier, or "" when absent.
func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runKey)
}

// WithIterationID stores the loop iteration identifier on the context.
func WithIterationID(ctx context.Context, iterationID string) context.Context {
	if iterationID == "" {
		return ctx
	}
	return context.WithValue(ctx, iterationKey, iterationID)
}

// IterationIDFromContext returns the iteration identifier, or "" when absent.
func IterationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, iterationKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
