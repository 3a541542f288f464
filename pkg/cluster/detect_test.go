package cluster

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyReply(t *testing.T) {
	cases := []struct {
		name  string
		reply []byte
		want  Protocol
	}{
		{"http", []byte("HTTP/1.1 200 OK\r\n"), HTTP},
		{"http2 settings", []byte{0, 0, 0x12, 0x04, 0, 0, 0, 0, 0, 0, 0x03, 0}, GRPC},
		{"mysql greeting", []byte{0x4a, 0, 0, 0, 0x0a, '8', '.', '0', '.', '3', '0', 0}, MySQL},
		{"postgres error", []byte("E\x00\x00\x00\x54SFATAL"), PostgreSQL},
		{"postgres no ssl", []byte("N"), PostgreSQL},
		{"native exception", []byte{2, 0x65, 0, 0, 0, 'D', 'B', ':', ':', 'E', 'x', 'c'}, TCP},
		{"native hello", []byte{0, 6, 'p', 'r', 'o', 't', 'o', 'n'}, TCP},
		{"garbage", []byte("zzz"), HTTP},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyReply(tc.reply))
		})
	}
}

// replyServer answers the first request line with reply and closes.
func replyServer(t *testing.T, reply []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		line, err := bufio.NewReader(c).ReadString('\n')
		if err != nil || line != "GET /ping HTTP/1.1\r\n" {
			return
		}
		_, _ = c.Write(reply)
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})
	return ln.Addr().String()
}

func TestDetectProtocol(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := DetectProtocol(ctx, replyServer(t, []byte("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nOk.\n")))
	require.NoError(t, err)
	assert.Equal(t, HTTP, p)

	p, err = DetectProtocol(ctx, replyServer(t, []byte{2, 0x65, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, TCP, p)

	p, err = DetectProtocol(ctx, replyServer(t, nil))
	require.Error(t, err)
	assert.Equal(t, HTTP, p)
}

func TestDetectProtocol_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p, err := DetectProtocol(context.Background(), addr)
	require.Error(t, err)
	assert.Equal(t, HTTP, p)
}
