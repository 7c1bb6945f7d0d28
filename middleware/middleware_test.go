package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddie-obex/obex/message"
	"github.com/boddie-obex/obex/obexerr"
)

func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.NewSuccess()
}

func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	time.Sleep(200 * time.Millisecond)
	return message.NewSuccess()
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware()(echoHandler)

	resp := handler(context.Background(), message.NewGetFinal())
	if resp == nil || !resp.IsSuccess() {
		t.Fatalf("expected success, got %+v", resp)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), message.NewGetFinal())
	if !resp.IsSuccess() {
		t.Fatalf("expected success, got opcode 0x%02x", resp.Opcode())
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), message.NewGetFinal())
	if resp.Opcode() != message.OpServiceUnavailable {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got 0x%02x", resp.Opcode())
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first 2 calls pass immediately, the 3rd is rejected.
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	req := message.NewGetFinal()

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), req)
		if !resp.IsSuccess() {
			t.Fatalf("request %d should pass, got opcode 0x%02x", i, resp.Opcode())
		}
	}

	resp := handler(context.Background(), req)
	if resp.Opcode() != message.OpServiceUnavailable {
		t.Fatalf("request 3 should be rate limited, got 0x%02x", resp.Opcode())
	}
}

func TestChain(t *testing.T) {
	chained := Chain(LoggingMiddleware(), TimeOutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)

	resp := handler(context.Background(), message.NewGetFinal())
	if !resp.IsSuccess() {
		t.Fatalf("expected success, got opcode 0x%02x", resp.Opcode())
	}
}

func TestReconnectRetriesOnlyTransportErrors(t *testing.T) {
	attempts := 0
	op := ReconnectOp(func() error {
		attempts++
		if attempts < 3 {
			return &obexerr.TransportError{Op: "dial", Err: errors.New("connection refused")}
		}
		return nil
	})

	wrapped := ReconnectMiddleware(5, time.Millisecond)(op)
	if err := wrapped(); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestReconnectDoesNotRetryProtocolFailure(t *testing.T) {
	attempts := 0
	op := ReconnectOp(func() error {
		attempts++
		return message.NewFailure(message.OpForbidden).AsError()
	})

	wrapped := ReconnectMiddleware(5, time.Millisecond)(op)
	if err := wrapped(); err == nil {
		t.Fatalf("expected the failure to surface")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt (no retry on a protocol failure), got %d", attempts)
	}
}
