package middleware

import (
	"context"

	"google.golang.org/grpc"
)

// Decision is the throttle outcome attached to an admitted request's context.
type Decision struct {
	Key string
	// Err is the limiter error, if any. A request can be admitted with an
	// error when the adapter fails open or when the bucket was not saved.
	Err error
}

type decisionKey struct{}

func withDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFromContext returns the decision the adapters recorded for the
// current request. ok is false outside of Handler and the interceptors.
func DecisionFromContext(ctx context.Context) (d Decision, ok bool) {
	d, ok = ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// decisionStream swaps the stream context so handlers see the decision.
type decisionStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *decisionStream) Context() context.Context { return s.ctx }
