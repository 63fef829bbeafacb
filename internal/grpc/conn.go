// Package grpc holds the clients of the identity provider and profile directory.
// Both services speak protobuf well-known types, so no generated stubs are needed.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"chat-realtime/internal/apperrors"
	"chat-realtime/internal/observability"
)

// Dial opens a client connection instrumented with tracing and client metrics.
func Dial(addr string, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	}
	conn, err := grpc.NewClient(addr, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func newBreaker(name string, log *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Caller errors say nothing about the health of the dependency.
		IsSuccessful: func(err error) bool {
			return err == nil || !dependencyFailure(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

func dependencyFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal, codes.Unknown:
		return true
	}
	return false
}

// classify maps a call error onto the application taxonomy.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w: %w", what, apperrors.ErrUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", what, apperrors.FromContext(err))
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%s: %w", what, apperrors.ErrUnauthorized)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w", what, apperrors.ErrInvalid)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w: %w", what, apperrors.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", what, apperrors.ErrUnavailable, err)
}
