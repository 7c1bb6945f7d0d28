package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/boddie-obex/obex/message"
)

// RateLimitMiddleware creates a rate limiter using the token bucket algorithm.
//
// Token bucket: tokens are added at rate r per second, up to a burst size.
// Each request consumes one token. If the bucket is empty, the request is
// rejected with SERVICE_UNAVAILABLE. Unlike a leaky bucket (constant drain
// rate), token bucket allows short bursts of traffic.
//
// This wraps dispatch, so it only ever sees completed operations — a
// non-final GET/PUT fragment never reaches it, since the server only
// builds a Request (and runs the middleware chain) once an operation's
// final packet arrives. Throttling the fragments themselves, before they
// assemble into an operation at all, is Server.RateLimit's job.
//
// CRITICAL: the limiter is created in the OUTER closure (once per middleware
// creation), NOT in the inner handler function. If created per-request,
// every request would get a fresh full bucket, defeating the entire purpose
// of rate limiting.
//
// Parameters:
//   - r: token refill rate (tokens per second)
//   - burst: maximum bucket size (allows this many requests in a burst)
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst) // Shared across all requests
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.NewFailure(message.OpServiceUnavailable)
			}
			return next(ctx, req)
		}
	}
}
