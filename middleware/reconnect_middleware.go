package middleware

import (
	"errors"
	"log"
	"time"

	"github.com/boddie-obex/obex/obexerr"
)

// ReconnectOp is the operation ReconnectMiddleware wraps: typically a
// Client.Connect call, or a dial-then-Connect pair.
type ReconnectOp func() error

// ReconnectMiddleware wraps op with bounded exponential-backoff retries,
// retrying only on a TransportError. A well-formed OBEX failure response
// (Forbidden, Not-Found, ...) is a completed round trip, not a broken
// connection — retrying it would just repeat the same rejection, so any
// other error is returned immediately without a retry.
func ReconnectMiddleware(maxRetries int, baseDelay time.Duration) func(ReconnectOp) ReconnectOp {
	return func(op ReconnectOp) ReconnectOp {
		return func() error {
			err := op()
			for i := 0; i < maxRetries; i++ {
				if err == nil {
					return nil
				}
				var te *obexerr.TransportError
				if !errors.As(err, &te) {
					return err
				}
				log.Printf("reconnect attempt %d after transport error: %v", i+1, err)
				time.Sleep(baseDelay * time.Duration(1<<i))
				err = op()
			}
			return err
		}
	}
}
