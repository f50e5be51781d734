// Package middleware connects a limiter.Limiter to net/http and gRPC servers.
//
// The limiter reports lookup failures without a decision. By default these
// adapters fail open and let the request through; WithFailClosed rejects it
// instead.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// KeyFunc extracts the throttle key from an HTTP request. An empty key is
// never throttled.
type KeyFunc func(r *http.Request) string

// GRPCKeyFunc extracts the throttle key from an incoming gRPC call.
type GRPCKeyFunc func(ctx context.Context, fullMethod string) string

type settings struct {
	failClosed bool
	httpKey    KeyFunc
	grpcKey    GRPCKeyFunc
}

// Option configures the adapters.
type Option func(*settings)

// WithFailClosed rejects requests whose throttle state could not be read.
func WithFailClosed() Option {
	return func(s *settings) {
		s.failClosed = true
	}
}

// WithKeyFunc sets the HTTP key extractor. Defaults to RemoteIP.
func WithKeyFunc(fn KeyFunc) Option {
	return func(s *settings) {
		if fn != nil {
			s.httpKey = fn
		}
	}
}

// WithGRPCKeyFunc sets the gRPC key extractor. Defaults to PeerAddr.
func WithGRPCKeyFunc(fn GRPCKeyFunc) Option {
	return func(s *settings) {
		if fn != nil {
			s.grpcKey = fn
		}
	}
}

func newSettings(opts []Option) *settings {
	s := &settings{
		httpKey: RemoteIP,
		grpcKey: PeerAddr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RemoteIP keys HTTP requests by client IP, without the port.
func RemoteIP(r *http.Request) string {
	return hostOnly(r.RemoteAddr)
}

// Header keys HTTP requests by the value of the named header.
func Header(name string) KeyFunc {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// PeerAddr keys gRPC calls by peer IP, without the port.
func PeerAddr(ctx context.Context, _ string) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return hostOnly(p.Addr.String())
}

// MetadataKey keys gRPC calls by the first value of the named metadata entry.
func MetadataKey(name string) GRPCKeyFunc {
	return func(ctx context.Context, _ string) string {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return ""
		}
		if vals := md.Get(name); len(vals) > 0 {
			return strings.TrimSpace(vals[0])
		}
		return ""
	}
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
