package cluster

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"
)

const detectProbe = "GET /ping HTTP/1.1\r\n\r\n"

// DetectProtocol connects to addr, sends a bare HTTP request and guesses the
// protocol from the first 12 bytes of the reply. It falls back to HTTP when
// the reply is not recognised; the error is only set when nothing could be
// read at all.
func DetectProtocol(ctx context.Context, addr string) (Protocol, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return HTTP, err
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := io.WriteString(conn, detectProbe); err != nil {
		return HTTP, err
	}
	buf := make([]byte, 12)
	n, err := io.ReadFull(conn, buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return HTTP, err
	}
	return classifyReply(buf[:n]), nil
}

func classifyReply(b []byte) Protocol {
	switch {
	case bytes.HasPrefix(b, []byte("HTTP/1.")):
		return HTTP
	// 3-byte length, sequence 0, protocol version 10
	case len(b) > 4 && b[3] == 0 && b[4] == 0x0a:
		return MySQL
	// HTTP/2 frame header: 3-byte length then a SETTINGS frame type
	case len(b) >= 9 && b[3] == 0x04:
		return GRPC
	case b[0] == 'E' || b[0] == 'N':
		return PostgreSQL
	case b[0] == 0 || b[0] == 2:
		return TCP
	}
	return HTTP
}
