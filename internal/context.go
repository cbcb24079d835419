package gateway

import "context"

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID set by the transport layer's
// requestID middleware, or "" if none was set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
