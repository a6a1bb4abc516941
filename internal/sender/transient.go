package sender

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"fiscal/internal/ofd"
)

// errNoResultCode marks a decoded reply that carries no result code.
var errNoResultCode = errors.New("ofd: reply without result code")

// isTransient reports whether err is worth another attempt: connection
// resets, network timeouts, DNS failures and empty or truncated replies.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, ofd.ErrEmptyResponse),
		errors.Is(err, errNoResultCode):
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
