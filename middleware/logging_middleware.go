package middleware

import (
	"context"
	"log"
	"time"

	"github.com/boddie-obex/obex/message"
)

// LoggingMiddleware records the opcode, duration, and response outcome for
// each request. It captures the start time before calling next, and logs
// the elapsed time after next returns.
//
// Example output:
//
//	opcode=0x83 duration=42µs response=0xa0
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()

			resp := next(ctx, req)

			duration := time.Since(start)
			if resp != nil {
				log.Printf("opcode=0x%02x duration=%s response=0x%02x", req.Opcode(), duration, resp.Opcode())
			} else {
				log.Printf("opcode=0x%02x duration=%s response=<nil>", req.Opcode(), duration)
			}
			return resp
		}
	}
}
