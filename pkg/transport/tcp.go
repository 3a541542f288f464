package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/timeplus-io/proton-go/pkg/cluster"
	"github.com/timeplus-io/proton-go/pkg/config"
	"github.com/timeplus-io/proton-go/pkg/errs"
	"github.com/timeplus-io/proton-go/pkg/request"
	"github.com/timeplus-io/proton-go/pkg/wire"
)

// ClientName is sent in the native handshake.
const ClientName = "proton-go"

// TCPConn is a native-protocol connection. Calls are serialized.
type TCPConn struct {
	node *cluster.Node
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	mu   sync.Mutex

	server    string
	rwTimeout time.Duration
}

// DialTCP connects and performs the hello exchange.
func DialTCP(ctx context.Context, node *cluster.Node, cfg config.Config) (*TCPConn, error) {
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", node.Address())
	if err != nil {
		return nil, errs.Classify(node.Address(), err)
	}
	c := &TCPConn{
		node:      node,
		conn:      nc,
		r:         bufio.NewReader(nc),
		w:         bufio.NewWriter(nc),
		rwTimeout: cfg.SocketTimeout,
	}
	if err := c.hello(ctx, cfg); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *TCPConn) hello(ctx context.Context, cfg config.Config) error {
	db, user, pass := c.node.Database(), c.node.User(), c.node.Password()
	if db == "" {
		db = cfg.Database
	}
	if user == "" {
		user, pass = cfg.User, cfg.Password
	}
	return c.roundTrip(ctx, func() error {
		if err := wire.WritePacket(c.w, wire.ClientHello, ClientName, db, user, pass); err != nil {
			return err
		}
		if err := c.expect(wire.ServerHello); err != nil {
			return err
		}
		name, err := wire.ReadString(c.r)
		if err != nil {
			return err
		}
		c.server = name
		return nil
	})
}

// ServerName is the name the server announced in its hello.
func (c *TCPConn) ServerName() string { return c.server }

func (c *TCPConn) Ping(ctx context.Context) error {
	return c.roundTrip(ctx, func() error {
		if err := wire.WritePacket(c.w, wire.ClientPing); err != nil {
			return err
		}
		return c.expect(wire.ServerPong)
	})
}

// Do is not implemented for the native protocol; requests go over HTTP.
func (c *TCPConn) Do(context.Context, *request.Sealed) (*Response, error) {
	return nil, fmt.Errorf("%w: native query dispatch", ErrUnsupported)
}

// roundTrip flushes what fn wrote and classifies failures.
func (c *TCPConn) roundTrip(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.applyDeadline(ctx); err != nil {
		return errs.Classify(c.node.Address(), err)
	}
	defer func() {
		// Clear deadline after request so idle connection doesn't expire.
		_ = c.conn.SetDeadline(time.Time{})
	}()
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := fn(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return errs.Classify(c.node.Address(), err)
	}
	return nil
}

// expect flushes pending writes and reads the next packet, which must be
// want. An exception packet becomes the returned error.
func (c *TCPConn) expect(want wire.PacketKind) error {
	if err := c.w.Flush(); err != nil {
		return err
	}
	kind, err := wire.ReadPacket(c.r)
	if err != nil {
		return err
	}
	switch kind {
	case want:
		return nil
	case wire.ServerException:
		e, err := wire.ReadException(c.r)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %w", errs.ErrProtocol, e)
	}
	return fmt.Errorf("%w: unexpected packet %d, want %d", errs.ErrProtocol, kind, want)
}

func (c *TCPConn) applyDeadline(ctx context.Context) error {
	// Prefer context deadline if present; otherwise use rwTimeout.
	if dl, ok := ctx.Deadline(); ok {
		return c.conn.SetDeadline(dl)
	}
	if c.rwTimeout > 0 {
		return c.conn.SetDeadline(time.Now().Add(c.rwTimeout))
	}
	return nil
}

func (c *TCPConn) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
