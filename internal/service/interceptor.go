package service

import (
	"context"
	"errors"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var errRateLimited = errors.New("rate limit exceeded, try again later")

// NewRateLimitInterceptor rejects calls to the listed procedures once limiter
// runs out of tokens. Other procedures pass through untouched.
func NewRateLimitInterceptor(limiter *rate.Limiter, procedures ...string) connect.UnaryInterceptorFunc {
	limited := make(map[string]struct{}, len(procedures))
	for _, p := range procedures {
		limited[p] = struct{}{}
	}

	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if _, ok := limited[req.Spec().Procedure]; ok && !limiter.Allow() {
				return nil, connect.NewError(connect.CodeResourceExhausted, errRateLimited)
			}
			return next(ctx, req)
		}
	}
}

// NewLoggingInterceptor writes one line per call with its outcome
func NewLoggingInterceptor(log *zap.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)

			fields := []zap.Field{
				zap.String("procedure", req.Spec().Procedure),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				code := connect.CodeOf(err)
				fields = append(fields, zap.String("code", code.String()), zap.Error(err))
				if code == connect.CodeInternal || code == connect.CodeUnavailable {
					log.Error("rpc failed", fields...)
				} else {
					log.Info("rpc rejected", fields...)
				}
				return res, err
			}
			log.Debug("rpc completed", fields...)
			return res, nil
		}
	}
}
