package errs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify_Kinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ConnErrorKind
	}{
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, KindNetwork},
		{"eof", fmt.Errorf("read: %w", io.EOF), KindNetwork},
		{"net timeout", timeoutErr{}, KindTimeout},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"protocol", fmt.Errorf("bad pong: %w", ErrProtocol), KindProtocol},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify("h:1", tc.err)
			var ce *ConnectionError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.want, ce.Kind)
			require.Equal(t, "h:1", ce.Node)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestClassify_PassThrough(t *testing.T) {
	require.NoError(t, Classify("n", nil))

	require.ErrorIs(t, Classify("n", context.Canceled), context.Canceled)
	var ce *ConnectionError
	require.False(t, errors.As(Classify("n", context.Canceled), &ce))

	orig := &ConnectionError{Node: "a", Kind: KindTimeout, Err: errors.New("x")}
	require.Same(t, orig, Classify("b", orig))
}

func TestConnectionError_Retryable(t *testing.T) {
	require.True(t, (&ConnectionError{Kind: KindNetwork}).Retryable())
	require.True(t, (&ConnectionError{Kind: KindTimeout}).Retryable())
	require.False(t, (&ConnectionError{Kind: KindProtocol}).Retryable())
}

func TestErrCancelled_IsContextCanceled(t *testing.T) {
	require.ErrorIs(t, ErrCancelled, context.Canceled)
}
