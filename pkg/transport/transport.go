// Package transport carries sealed requests to a node. It ships an HTTP
// transport and a native TCP transport that supports the handshake and ping.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/timeplus-io/proton-go/pkg/cluster"
	"github.com/timeplus-io/proton-go/pkg/config"
	"github.com/timeplus-io/proton-go/pkg/errs"
	"github.com/timeplus-io/proton-go/pkg/request"
)

var (
	ErrUnsupportedProtocol = errors.New("transport: unsupported protocol")
	ErrUnsupported         = errors.New("transport: operation not supported")
)

// Conn is an open connection to one node.
type Conn interface {
	Ping(ctx context.Context) error
	Do(ctx context.Context, req *request.Sealed) (*Response, error)
	Close() error
}

// Dial opens a connection speaking node's protocol. Nodes with protocol Any
// are detected first.
func Dial(ctx context.Context, node *cluster.Node, cfg config.Config) (Conn, error) {
	p := node.Protocol()
	if p == cluster.Any {
		detected, err := cluster.DetectProtocol(ctx, node.Address())
		if err != nil {
			return nil, errs.Classify(node.Address(), err)
		}
		node = node.WithProtocol(detected)
		p = detected
	}

	switch p {
	case cluster.HTTP:
		return NewHTTP(node, cfg), nil
	case cluster.TCP:
		return DialTCP(ctx, node, cfg)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, p)
}

// Prober checks health by opening a throwaway connection and pinging.
type Prober struct {
	Config config.Config
}

func NewProber(cfg config.Config) *Prober {
	return &Prober{Config: cfg}
}

func (p *Prober) Probe(ctx context.Context, node *cluster.Node) error {
	c, err := Dial(ctx, node, p.Config)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Ping(ctx)
}

var _ cluster.Prober = (*Prober)(nil)
