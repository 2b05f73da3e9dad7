package media

import "context"

// RequestInfo identifies the caller of an operation in audit records
type RequestInfo struct {
	ID       string
	ClientIP string
}

type requestKey struct{}

// WithRequest attaches caller details to ctx
func WithRequest(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestKey{}, info)
}

// RequestFrom returns the caller details stored in ctx, if any
func RequestFrom(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestKey{}).(RequestInfo)
	return info
}
