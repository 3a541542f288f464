package cluster

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailureDetector_CancelledCallsAreIgnored(t *testing.T) {
	var tripped []*Node
	d := NewFailureDetector(2, time.Hour, func(n *Node) { tripped = append(tripped, n) })
	n := NewNode("a", UseProtocol(HTTP))

	boom := errors.New("connection reset")
	d.Report(n, boom)
	d.Report(n, context.Canceled)
	d.Report(n, fmt.Errorf("dispatch: %w", context.Canceled))
	assert.Equal(t, 1, d.Failures(n))
	assert.Empty(t, tripped)

	d.Report(n, boom)
	assert.Len(t, tripped, 1)
	assert.True(t, tripped[0].Equal(n))
}

func TestFailureDetector_SuccessResets(t *testing.T) {
	d := NewFailureDetector(3, time.Hour, nil)
	n := NewNode("b", UseProtocol(TCP))

	d.Report(n, errors.New("refused"))
	d.Report(n, errors.New("refused"))
	assert.Equal(t, 2, d.Failures(n))

	d.Report(n, nil)
	assert.Zero(t, d.Failures(n))

	d.Forget(n)
	assert.Zero(t, d.Failures(n))
}
