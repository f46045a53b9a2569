package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	ErrUnknownProvider = errors.New("unknown generator provider")

	// ErrFormatUnsupported means the backend rejected the structured-output request;
	// the same call may succeed without JSONFormat.
	ErrFormatUnsupported = errors.New("structured output format not supported")

	// ErrUnreachable means no response was received at all.
	ErrUnreachable = errors.New("generator unreachable")
)

// StatusError is a non-success HTTP answer from the backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

// ClassifyTransport wraps err with ErrUnreachable when it is a connection-level failure.
func ClassifyTransport(err error) error {
	if err == nil || errors.Is(err, ErrUnreachable) {
		return err
	}
	if IsTransportFailure(err) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return err
}

// IsTransportFailure reports refused connections, DNS failures and timeouts.
func IsTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
