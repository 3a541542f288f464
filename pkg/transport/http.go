package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/timeplus-io/proton-go/pkg/cluster"
	"github.com/timeplus-io/proton-go/pkg/codec"
	"github.com/timeplus-io/proton-go/pkg/compress"
	"github.com/timeplus-io/proton-go/pkg/config"
	"github.com/timeplus-io/proton-go/pkg/errs"
	"github.com/timeplus-io/proton-go/pkg/request"
)

const maxErrorBody = 4 << 10

// ServerError is a non-200 reply.
type ServerError struct {
	Status  int
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("server error %d (http %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("server error (http %d): %s", e.Status, e.Message)
}

func (e *ServerError) Unwrap() error { return errs.ErrProtocol }

// HTTPConn talks to the HTTP interface. It is safe for concurrent use.
type HTTPConn struct {
	node   *cluster.Node
	cfg    config.Config
	base   string
	tr     *http.Transport
	client *http.Client
}

func NewHTTP(node *cluster.Node, cfg config.Config) *HTTPConn {
	d := &net.Dialer{Timeout: cfg.ConnectTimeout}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		ResponseHeaderTimeout: cfg.SocketTimeout,
		MaxIdleConnsPerHost:   4,
		DisableCompression:    true,
	}
	return &HTTPConn{
		node:   node,
		cfg:    cfg,
		base:   "http://" + node.Address(),
		tr:     tr,
		client: &http.Client{Transport: tr},
	}
}

func (c *HTTPConn) Node() *cluster.Node { return c.node }

// Ping expects "Ok." from /ping.
func (c *HTTPConn) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errs.Classify(c.node.Address(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return errs.Classify(c.node.Address(), err)
	}
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "Ok." {
		return errs.Classify(c.node.Address(),
			fmt.Errorf("%w: ping replied %d %q", errs.ErrProtocol, resp.StatusCode, body))
	}
	return nil
}

// Do posts req. Statement text goes in the body unless the body carries
// mutation data or external tables.
func (c *HTTPConn) Do(ctx context.Context, req *request.Sealed) (*Response, error) {
	stmt, err := req.Statement()
	if err != nil {
		return nil, err
	}
	cfg := req.Config()

	q := c.params(req, cfg)
	header := http.Header{}
	c.auth(header, cfg)

	var body io.Reader
	switch ext := req.External(); {
	case len(ext) > 0:
		q.Set("query", stmt)
		for _, t := range ext {
			q.Set(t.Name+"_structure", t.Structure)
			q.Set(t.Name+"_format", t.Format.String())
		}
		buf, ctype, err := externalBody(ext)
		if err != nil {
			return nil, err
		}
		header.Set("Content-Type", ctype)
		body = buf
	case req.Mode() == request.ModeMutation && req.Data() != nil:
		q.Set("query", stmt)
		body = req.Data()
	default:
		body = strings.NewReader(stmt)
	}

	if alg := cfg.RequestAlgorithm(); alg != compress.None && header.Get("Content-Type") == "" {
		buf, err := compressBody(body, alg, cfg.Decompress.Level)
		if err != nil {
			return nil, err
		}
		body = buf
		header.Set("Content-Encoding", alg.ContentEncoding())
	}
	if alg := cfg.ResponseAlgorithm(); alg != compress.None {
		q.Set("enable_http_compression", "1")
		q.Set("http_zlib_compression_level", strconv.Itoa(cfg.Compress.Level))
		header.Set("Accept-Encoding", alg.ContentEncoding())
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/?"+q.Encode(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		hreq.Header[k] = v
	}

	resp, err := c.client.Do(hreq)
	if err != nil {
		return nil, errs.Classify(c.node.Address(), err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, errs.Classify(c.node.Address(), readServerError(resp))
	}
	return c.response(req, resp)
}

func (c *HTTPConn) params(req *request.Sealed, cfg config.Config) url.Values {
	q := url.Values{}
	q.Set("query_id", req.QueryID())
	if db := c.node.Database(); db != "" {
		q.Set("database", db)
	} else if cfg.Database != "" {
		q.Set("database", cfg.Database)
	}
	if s := cfg.Session; s.ID != "" {
		q.Set("session_id", s.ID)
		if s.Check {
			q.Set("session_check", "1")
		}
		if s.Timeout > 0 {
			q.Set("session_timeout", strconv.Itoa(int(s.Timeout.Seconds())))
		}
	}
	if f := req.Format(); f != codec.UnknownFormat {
		q.Set("default_format", f.String())
	}
	if cfg.ServerTimeZone != "" {
		q.Set("session_timezone", cfg.ServerTimeZone)
	}
	for _, s := range req.Settings() {
		q.Set(s.Key, s.Value)
	}
	return q
}

func (c *HTTPConn) auth(h http.Header, cfg config.Config) {
	user, pass := c.node.User(), c.node.Password()
	if user == "" {
		user, pass = cfg.User, cfg.Password
	}
	if user != "" {
		h.Set("X-ClickHouse-User", user)
	}
	if pass != "" {
		h.Set("X-ClickHouse-Key", pass)
	}
}

func (c *HTTPConn) response(req *request.Sealed, resp *http.Response) (*Response, error) {
	out := &Response{
		QueryID: resp.Header.Get("X-ClickHouse-Query-Id"),
		Format:  req.Format(),
		Body:    resp.Body,
		closers: []io.Closer{resp.Body},
	}
	if out.QueryID == "" {
		out.QueryID = req.QueryID()
	}
	if f, err := codec.ParseFormat(resp.Header.Get("X-ClickHouse-Format")); err == nil {
		out.Format = f
	}

	var err error
	if out.Summary, err = parseSummary(resp.Header.Get("X-ClickHouse-Summary")); err != nil {
		_ = out.Close()
		return nil, err
	}

	if enc := resp.Header.Get("Content-Encoding"); enc != "" {
		alg, err := compress.ParseAlgorithm(enc)
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("%w: %v", errs.ErrProtocol, err)
		}
		r, err := compress.NewReader(resp.Body, alg)
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("%w: %v", errs.ErrProtocol, err)
		}
		out.Body = r
		out.closers = append(out.closers, r)
	}
	return out, nil
}

func readServerError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &ServerError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	if code := resp.Header.Get("X-ClickHouse-Exception-Code"); code != "" {
		e.Code, _ = strconv.Atoi(code)
	}
	return e
}

func compressBody(r io.Reader, alg compress.Algorithm, level int) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	w, err := compress.NewWriter(&buf, alg, level)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, r); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// externalBody encodes external table contents as multipart files named
// after the table. Structure and format travel as URL parameters.
func externalBody(tables []request.ExternalTable) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, t := range tables {
		part, err := mw.CreateFormFile(t.Name, t.Name)
		if err != nil {
			return nil, "", err
		}
		if t.Content != nil {
			if _, err := io.Copy(part, t.Content); err != nil {
				return nil, "", err
			}
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// Close drops idle keep-alive connections.
func (c *HTTPConn) Close() error {
	c.tr.CloseIdleConnections()
	return nil
}
