package middleware

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/toolink/throttle/limiter"
)

// UnaryServerInterceptor rejects throttled unary calls with codes.ResourceExhausted.
func UnaryServerInterceptor(l *limiter.Limiter, opts ...Option) grpc.UnaryServerInterceptor {
	s := newSettings(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := s.admit(ctx, l, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor rejects throttled streams before the handler runs.
func StreamServerInterceptor(l *limiter.Limiter, opts ...Option) grpc.StreamServerInterceptor {
	s := newSettings(opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := s.admit(ss.Context(), l, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &decisionStream{ServerStream: ss, ctx: ctx})
	}
}

// admit returns a status error when the call must not proceed, otherwise the
// context to hand to the handler.
func (s *settings) admit(ctx context.Context, l *limiter.Limiter, fullMethod string) (context.Context, error) {
	key := s.grpcKey(ctx, fullMethod)
	limited, err := l.Limited(ctx, key)
	if err != nil {
		if !errors.Is(err, limiter.ErrPersist) {
			log.Error().Err(err).Str("key", key).Str("method", fullMethod).Msg("rate limit check failed")
			if s.failClosed {
				return nil, status.Error(codes.Unavailable, "rate limiting unavailable")
			}
			return withDecision(ctx, Decision{Key: key, Err: err}), nil
		}
		log.Warn().Err(err).Str("key", key).Msg("rate limit state not saved")
	}

	if limited {
		log.Debug().Str("key", key).Str("method", fullMethod).Msg("call throttled")
		return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for %s", fullMethod)
	}
	return withDecision(ctx, Decision{Key: key, Err: err}), nil
}
