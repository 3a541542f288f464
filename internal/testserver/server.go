// Package testserver is a loopback stand-in for a server node. It answers
// HTTP /ping and queries on one listener and the native handshake and ping
// on another.
package testserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/timeplus-io/proton-go/pkg/compress"
	"github.com/timeplus-io/proton-go/pkg/wire"
)

// Query is what the HTTP side received for one request.
type Query struct {
	Text    string
	Params  map[string]string
	Header  http.Header
	Body    []byte // decompressed; the statement when it was not in the URL
	Files   map[string][]byte
	Encoded bool // body arrived with a Content-Encoding
}

// Reply is what the HTTP side sends back.
type Reply struct {
	Status int // 0 means 200
	Header map[string]string
	Body   []byte
}

// Handler answers queries. The default echoes "Ok.".
type Handler func(q Query) Reply

type Server struct {
	HTTPAddr   string
	NativeAddr string

	logger  *slog.Logger
	httpLn  net.Listener
	nativeL net.Listener
	srv     *http.Server
	down    *atomic.Bool
	pings   *atomic.Int64

	mu      sync.Mutex
	handler Handler
	queries []Query
	conns   map[net.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start listens on two loopback ports.
func Start(logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	nativeLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = httpLn.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		HTTPAddr:   httpLn.Addr().String(),
		NativeAddr: nativeLn.Addr().String(),
		logger:     logger,
		httpLn:     httpLn,
		nativeL:    nativeLn,
		down:       atomic.NewBool(false),
		pings:      atomic.NewInt64(0),
		conns:      map[net.Conn]struct{}{},
		ctx:        ctx,
		cancel:     cancel,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", s.servePing)
	mux.HandleFunc("/", s.serveQuery)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http serve", "err", err)
		}
	}()
	go s.acceptNative()

	logger.Debug("test server listening", "http", s.HTTPAddr, "native", s.NativeAddr)
	return s, nil
}

// SetDown makes both pings fail until called with false.
func (s *Server) SetDown(down bool) { s.down.Store(down) }

// Pings counts answered pings of both kinds.
func (s *Server) Pings() int { return int(s.pings.Load()) }

func (s *Server) Handle(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Queries returns the requests received so far.
func (s *Server) Queries() []Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Query(nil), s.queries...)
}

func (s *Server) servePing(w http.ResponseWriter, _ *http.Request) {
	if s.down.Load() {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	s.pings.Inc()
	_, _ = io.WriteString(w, "Ok.\n")
}

func (s *Server) serveQuery(w http.ResponseWriter, r *http.Request) {
	q, err := readQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.queries = append(s.queries, q)
	h := s.handler
	s.mu.Unlock()

	reply := Reply{Body: []byte("Ok.\n")}
	if h != nil {
		reply = h(q)
	}
	for k, v := range reply.Header {
		w.Header().Set(k, v)
	}
	if reply.Status != 0 && reply.Status != http.StatusOK {
		w.WriteHeader(reply.Status)
		_, _ = w.Write(reply.Body)
		return
	}

	if q.Params["enable_http_compression"] == "1" {
		if alg, err := compress.ParseAlgorithm(r.Header.Get("Accept-Encoding")); err == nil && alg != compress.None {
			w.Header().Set("Content-Encoding", alg.ContentEncoding())
			cw, err := compress.NewWriter(w, alg, compress.DefaultLevel)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			_, _ = cw.Write(reply.Body)
			_ = cw.Close()
			return
		}
	}
	_, _ = w.Write(reply.Body)
}

func readQuery(r *http.Request) (Query, error) {
	q := Query{Params: map[string]string{}, Header: r.Header.Clone(), Files: map[string][]byte{}}
	for k, v := range r.URL.Query() {
		q.Params[k] = v[0]
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return q, err
		}
		for name, files := range r.MultipartForm.File {
			f, err := files[0].Open()
			if err != nil {
				return q, err
			}
			b, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return q, err
			}
			q.Files[name] = b
		}
		q.Text = q.Params["query"]
		return q, nil
	}

	var body io.Reader = r.Body
	if enc := r.Header.Get("Content-Encoding"); enc != "" {
		alg, err := compress.ParseAlgorithm(enc)
		if err != nil {
			return q, err
		}
		dr, err := compress.NewReader(r.Body, alg)
		if err != nil {
			return q, err
		}
		defer dr.Close()
		body = dr
		q.Encoded = true
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return q, err
	}
	q.Body = b
	q.Text = q.Params["query"]
	if q.Text == "" {
		q.Text = string(b)
	}
	return q, nil
}

func (s *Server) acceptNative() {
	defer s.wg.Done()
	for {
		conn, err := s.nativeL.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.logger.Warn("accept", "err", err)
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleNative(conn)
	}
}

func (s *Server) handleNative(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		kind, err := wire.ReadPacket(r)
		if err != nil {
			// Client closed or bad frame.
			return
		}
		switch kind {
		case wire.ClientHello:
			for range 4 {
				if _, err := wire.ReadString(r); err != nil {
					return
				}
			}
			err = wire.WritePacket(w, wire.ServerHello, "proton-testserver")
		case wire.ClientPing:
			if s.down.Load() {
				s.exception(w, 210, "NETWORK_ERROR", "server is down")
				return
			}
			s.pings.Inc()
			err = wire.WritePacket(w, wire.ServerPong)
		default:
			s.exception(w, 101, "UNEXPECTED_PACKET_FROM_CLIENT", fmt.Sprintf("unknown packet %d", kind))
			return
		}
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) exception(w *bufio.Writer, code int32, name, msg string) {
	if err := wire.WritePacket(w, wire.ServerException); err != nil {
		return
	}
	if err := wire.WriteException(w, &wire.Exception{Code: code, Name: name, Message: msg}); err != nil {
		return
	}
	_ = w.Flush()
}

// Close stops both listeners and waits for open connections to finish.
func (s *Server) Close() error {
	s.cancel()
	err := s.srv.Close()
	_ = s.nativeL.Close()

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
