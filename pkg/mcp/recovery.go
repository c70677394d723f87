package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// reconnectBackoffBase and reconnectBackoffCap implement §4.3's "exponential
// backoff (base 500 ms, cap 30 s, full jitter)" reconnect policy.
const (
	reconnectBackoffBase = 500 // milliseconds
	reconnectBackoffCap  = 30000
)

// isTransportError classifies an error observed while reading or writing a
// connection as one that should drive the connection into reconnecting
// (§4.3). Context cancellation and deadline errors are deliberately
// excluded — those map to per-call timeout/cancellation, not a dead
// connection.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && !netErr.Timeout() {
		return true
	}
	return true
}
