// Package http implements an HTTP/1.1 check layered over the TLS or TCP
// check.
//
// The inner layer is chosen once from the URL scheme. The request is framed
// directly on the connection the inner layer returns, and the full response
// is read before Connect returns. Closing the connection handed out by
// Connect tears down every layer below it.
package http

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kylerisse/chksrv/pkg/check"
	"github.com/kylerisse/chksrv/pkg/check/tcp"
	"github.com/kylerisse/chksrv/pkg/check/tls"
	"github.com/kylerisse/chksrv/pkg/logging"
	"github.com/kylerisse/chksrv/pkg/option"
	"github.com/sirupsen/logrus"
)

const (
	// TypeName is the registered name for this check type.
	TypeName = "http"

	// Layer is the result key namespace written by this check.
	Layer = "http"

	// DefaultPortHTTP and DefaultPortHTTPS apply when the URL has no port.
	DefaultPortHTTP  = 80
	DefaultPortHTTPS = 443

	headerPrefix = "http.header."
)

// Defaults is the default option layer of the HTTP check, including the
// TLS and TCP defaults.
var Defaults = option.Merge(tls.Defaults, option.Defaults{
	"http.method": http.MethodGet,
	"http.body":   nil,
})

// Check implements check.Layer for HTTP over TCP or TLS.
type Check struct {
	url     *url.URL
	host    string
	port    int
	useTLS  bool
	method  string
	body    string
	headers http.Header
	inner   check.Layer
	options *option.Set
	logger  logrus.FieldLogger
	tcpOpts []tcp.Option
}

// Option is a functional option for configuring an HTTP Check.
type Option func(*Check) error

// WithLogger sets the logger of the HTTP check and its inner layers.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Check) error {
		c.logger = logger
		return nil
	}
}

// WithTCPOptions passes options through to the TCP layer.
func WithTCPOptions(opts ...tcp.Option) Option {
	return func(c *Check) error {
		c.tcpOpts = append(c.tcpOpts, opts...)
		return nil
	}
}

// New creates an HTTP Check for rawURL. Only http and https URLs are
// accepted; anything else yields a ConfigError wrapping an
// UnsupportedSchemeError.
func New(rawURL string, set *option.Set, opts ...Option) (*Check, error) {
	if set == nil {
		set = option.New(Defaults, nil)
	}
	c := &Check{
		options: set,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("http: %w", err)
		}
	}

	if err := c.parseURL(rawURL); err != nil {
		return nil, err
	}
	if err := c.configure(); err != nil {
		return nil, err
	}

	var err error
	tcpOpts := append([]tcp.Option{tcp.WithLogger(c.logger)}, c.tcpOpts...)
	if c.useTLS {
		c.inner, err = tls.New(c.host, c.port, set, []tls.Option{tls.WithLogger(c.logger)}, tcpOpts...)
	} else {
		c.inner, err = tcp.New(c.host, c.port, set, tcpOpts...)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Check) parseURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &check.ConfigError{Check: TypeName, Err: fmt.Errorf("invalid URL %q: %w", rawURL, err)}
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		c.port = DefaultPortHTTP
	case "https":
		c.useTLS = true
		c.port = DefaultPortHTTPS
	default:
		c.logger.Errorf("Unknown URL scheme: %s", u.Scheme)
		return &check.ConfigError{Check: TypeName, Err: &check.UnsupportedSchemeError{Scheme: u.Scheme}}
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return &check.ConfigError{Check: TypeName, Err: fmt.Errorf("invalid port %q", p)}
		}
		c.port = port
	}
	c.host = u.Hostname()
	if c.host == "" {
		return &check.ConfigError{Check: TypeName, Err: fmt.Errorf("URL %q has no host", rawURL)}
	}
	c.url = u
	return nil
}

// configure reads the method, body and extra request headers.
func (c *Check) configure() error {
	method, _, err := c.options.String("http.method")
	if err != nil {
		return &check.ConfigError{Check: TypeName, Key: "http.method", Err: err}
	}
	c.method = strings.ToUpper(strings.TrimSpace(method))
	if c.method == "" {
		return &check.ConfigError{Check: TypeName, Key: "http.method", Err: fmt.Errorf("method must not be empty")}
	}

	if c.body, _, err = c.options.String("http.body"); err != nil {
		return &check.ConfigError{Check: TypeName, Key: "http.body", Err: err}
	}

	c.headers = make(http.Header)
	for name, value := range c.options.WithPrefix(headerPrefix) {
		if value == nil {
			continue
		}
		c.headers.Set(name, fmt.Sprint(value))
		c.logger.Debugf("Found additional header: %s: %v", name, value)
	}
	return nil
}

// Type returns the check type name.
func (c *Check) Type() string {
	return TypeName
}

// Describe returns the Descriptor for this check instance.
func (c *Check) Describe() check.Descriptor {
	d := c.inner.Describe()
	d.Type = TypeName
	d.Target = c.url.String()
	d.URL = c.url.String()
	d.Layers = append(d.Layers, Layer)
	return d
}

// UseTLS reports whether the check runs over TLS.
func (c *Check) UseTLS() bool {
	return c.useTLS
}

// Connect obtains a connection from the inner layer, sends the request and
// reads the complete response into res. On an HTTP-level failure the inner
// connection is torn down and nil is returned.
func (c *Check) Connect(ctx context.Context, res check.Results) net.Conn {
	log := c.logger.WithField("url", c.url.String())

	log.Info("Get connection using inner layer")
	raw := c.inner.Connect(ctx, res)
	if raw == nil {
		res["http.success"] = false
		return nil
	}

	resp, body, err := c.roundTrip(ctx, raw, res, log)
	if err != nil {
		log.Errorf("HTTP request failed: %v", err)
		check.RecordFailure(res, Layer, err)
		c.inner.Disconnect(raw, res)
		return nil
	}

	c.recordResponse(res, resp, body, log)
	log.Infof("HTTP request finished. Status %s", resp.Status)
	return &stream{Conn: raw, inner: c.inner, res: res}
}

// roundTrip writes the request on conn and reads the response.
func (c *Check) roundTrip(ctx context.Context, conn net.Conn, res check.Results, log logrus.FieldLogger) (*http.Response, []byte, error) {
	log.Info("Prepare HTTP request")
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.url.String(), body)
	if err != nil {
		return nil, nil, err
	}
	req.Host = c.url.Host
	for name, values := range c.headers {
		req.Header[name] = values
	}
	req.Close = true

	log.Info("Send HTTP request")
	res["http.req.timestamp"] = time.Now()
	timer := check.StartTimer()
	if err := req.Write(conn); err != nil {
		return nil, nil, fmt.Errorf("write request: %w", err)
	}
	timer.Record(res, "http.con")

	// http.resp is measured from the same start as http.con, so it
	// includes sending the request.
	br := bufio.NewReader(conn)
	if _, err := br.Peek(1); err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	timer.Record(res, "http.resp")

	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp, content, nil
}

func (c *Check) recordResponse(res check.Results, resp *http.Response, body []byte, log logrus.FieldLogger) {
	res["http.success"] = true
	res["http.resp.status"] = resp.StatusCode
	res["http.resp.reason"] = strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")
	res["http.resp.version"] = resp.ProtoMajor*10 + resp.ProtoMinor
	res["http.resp.proto"] = resp.Proto
	res["http.resp.content"] = body
	res["http.resp.body_length"] = len(body)

	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		key := HeaderKey(name)
		value := strings.Join(values, ", ")
		headers[key] = value
		res["http.resp.header."+key] = value
		log.Debugf("Found response header: %s: %s", key, value)
	}
	res["http.resp.headers"] = headers
}

// HeaderKey normalizes a header name for use in a result key: lower case,
// with spaces and hyphens replaced by underscores.
func HeaderKey(name string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(name))
}

// Disconnect closes the connection returned by Connect, which releases the
// inner layers as well.
func (c *Check) Disconnect(conn net.Conn, res check.Results) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		c.logger.Debugf("Close failed: %v", err)
	}
}

// Run performs one request and reports success when the inner layers and
// the HTTP exchange all succeeded.
func (c *Check) Run(ctx context.Context) check.Results {
	res := check.NewResults()
	conn := c.Connect(ctx, res)
	c.Disconnect(conn, res)
	res[check.SuccessKey] = res.Bool("tcp.success") &&
		(res.Bool("ssl.success") || !c.useTLS) &&
		res.Bool("http.success")
	return res
}

// Factory returns a check.Factory that creates HTTP checks from a URL
// target and parameters. logger is passed down to every layer.
func Factory(logger logrus.FieldLogger) check.Factory {
	if logger == nil {
		logger = logging.Discard()
	}
	return func(target string, params map[string]any) (check.Check, error) {
		c, err := New(target, option.New(Defaults, params), WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// stream is the connection handed out after a successful exchange. Closing
// it runs the inner layer's teardown on the wrapped connection.
type stream struct {
	net.Conn
	inner  check.Layer
	res    check.Results
	closed bool
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.inner.Disconnect(s.Conn, s.res)
	return nil
}
