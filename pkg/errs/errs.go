// Package errs holds the error taxonomy shared by the client core packages.
package errs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	// ErrTypeSyntax is matched by every malformed type descriptor error.
	ErrTypeSyntax = errors.New("proton: type syntax error")
	// ErrNoHealthyNode is returned when node selection finds no eligible node.
	ErrNoHealthyNode = errors.New("proton: no healthy node available")
	// ErrIllegalState is returned when an object is used in the wrong lifecycle phase.
	ErrIllegalState = errors.New("proton: illegal state")
	// ErrCancelled is returned by futures whose task was cancelled or interrupted.
	ErrCancelled = fmt.Errorf("proton: cancelled: %w", context.Canceled)
	// ErrProtocol marks a response that violates the wire protocol.
	ErrProtocol = errors.New("proton: protocol error")
)

// ConnErrorKind classifies transport failures for caller-side retry policies.
type ConnErrorKind uint8

const (
	KindUnknown ConnErrorKind = iota
	KindNetwork
	KindTimeout
	KindProtocol
)

func (k ConnErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// ConnectionError is a transport failure annotated with the node it happened on.
type ConnectionError struct {
	Node string
	Kind ConnErrorKind
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("proton: %s error on %s: %v", e.Kind, e.Node, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth retrying on another node.
// The core never retries on its own.
func (e *ConnectionError) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindTimeout
}

// Classify wraps err into a *ConnectionError for node. Errors that already are
// a *ConnectionError, cancellations and nil are returned unchanged.
func Classify(node string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ConnectionError{Node: node, Kind: KindOf(err), Err: err}
}

// KindOf returns the classification Classify would pick for err.
func KindOf(err error) ConnErrorKind {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	switch {
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE), errors.Is(err, net.ErrClosed):
		return KindNetwork
	}

	var oe *net.OpError
	if errors.As(err, &oe) {
		return KindNetwork
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		return KindNetwork
	}
	return KindUnknown
}
