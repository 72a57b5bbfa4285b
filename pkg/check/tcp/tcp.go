// Package tcp implements a TCP connect check.
//
// The check resolves and connects to host:port according to an IP-version
// policy. Under the prefer6 and fallback6 policies a failed attempt at the
// first address family is retried exactly once at the other family. The
// connection is handed to the layer above (TLS, HTTP) through Connect, or
// closed straight away by Run.
package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/kylerisse/chksrv/pkg/check"
	"github.com/kylerisse/chksrv/pkg/logging"
	"github.com/kylerisse/chksrv/pkg/option"
	"github.com/sirupsen/logrus"
)

const (
	// TypeName is the registered name for this check type.
	TypeName = "tcp"

	// Layer is the result key namespace written by this check.
	Layer = "tcp"

	// DefaultTimeout is the default connect and I/O timeout.
	DefaultTimeout = 10 * time.Second
)

// Policy selects which address families are tried and in what order.
type Policy string

const (
	Force4    Policy = "force4"    // IPv4 only
	Force6    Policy = "force6"    // IPv6 only
	Prefer6   Policy = "prefer6"   // IPv6, then IPv4 on failure
	Fallback6 Policy = "fallback6" // IPv4, then IPv6 on failure
)

// Defaults is the default option layer of the TCP check.
var Defaults = option.Defaults{
	"tcp.ip_version": string(Fallback6),
	"tcp.timeout":    DefaultTimeout.Seconds(),
}

// DialFunc opens a connection; it has the signature of net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Check implements check.Layer for plain TCP connections.
type Check struct {
	target  string
	host    string
	port    int
	policy  Policy
	timeout time.Duration
	options *option.Set
	dial    DialFunc
	logger  logrus.FieldLogger
}

// Option is a functional option for configuring a TCP Check.
type Option func(*Check) error

// WithDialer replaces the dialer used to open connections.
func WithDialer(dial DialFunc) Option {
	return func(c *Check) error {
		if dial == nil {
			return fmt.Errorf("dialer must not be nil")
		}
		c.dial = dial
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Check) error {
		c.logger = logger
		return nil
	}
}

// New creates a TCP Check for host:port. Options are read from set, which
// must resolve every key of Defaults; wrapping checks pass their own set.
func New(host string, port int, set *option.Set, opts ...Option) (*Check, error) {
	if host == "" {
		return nil, &check.ConfigError{Check: TypeName, Err: fmt.Errorf("host must not be empty")}
	}
	if port < 1 || port > 65535 {
		return nil, &check.ConfigError{Check: TypeName, Err: fmt.Errorf("port %d out of range", port)}
	}
	if set == nil {
		set = option.New(Defaults, nil)
	}

	policy, err := parsePolicy(set)
	if err != nil {
		return nil, err
	}
	timeout, err := set.Duration("tcp.timeout")
	if err != nil {
		return nil, &check.ConfigError{Check: TypeName, Key: "tcp.timeout", Err: err}
	}
	if timeout <= 0 {
		return nil, &check.ConfigError{Check: TypeName, Key: "tcp.timeout", Err: fmt.Errorf("timeout must be positive, got %v", timeout)}
	}

	var d net.Dialer
	c := &Check{
		target:  net.JoinHostPort(host, strconv.Itoa(port)),
		host:    host,
		port:    port,
		policy:  policy,
		timeout: timeout,
		options: set,
		dial:    d.DialContext,
		logger:  logging.Discard(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("tcp: %w", err)
		}
	}

	return c, nil
}

// parsePolicy reads tcp.ip_version. Booleans select force6 (true) or
// force4 (false).
func parsePolicy(set *option.Set) (Policy, error) {
	v, err := set.Get("tcp.ip_version")
	if err != nil {
		return "", &check.ConfigError{Check: TypeName, Key: "tcp.ip_version", Err: err}
	}
	switch t := v.(type) {
	case bool:
		if t {
			return Force6, nil
		}
		return Force4, nil
	case string:
		switch p := Policy(t); p {
		case Force4, Force6, Prefer6, Fallback6:
			return p, nil
		}
	}
	return "", &check.ConfigError{
		Check: TypeName,
		Key:   "tcp.ip_version",
		Err:   fmt.Errorf("invalid policy %v (supported: force4, force6, prefer6, fallback6, true, false)", v),
	}
}

// Type returns the check type name.
func (c *Check) Type() string {
	return TypeName
}

// Describe returns the Descriptor for this check instance.
func (c *Check) Describe() check.Descriptor {
	return check.Descriptor{
		Type:    TypeName,
		Target:  c.target,
		Host:    c.host,
		Port:    c.port,
		Layers:  []string{Layer},
		Options: c.options.Values(),
	}
}

// networks returns the dial networks in the order the policy tries them.
func (c *Check) networks() []string {
	switch c.policy {
	case Force4:
		return []string{"tcp4"}
	case Force6:
		return []string{"tcp6"}
	case Prefer6:
		return []string{"tcp6", "tcp4"}
	default:
		return []string{"tcp4", "tcp6"}
	}
}

// Connect opens the TCP connection and records tcp.* results.
// The returned connection carries an I/O deadline of the configured
// timeout and is unblocked when ctx is done.
func (c *Check) Connect(ctx context.Context, res check.Results) net.Conn {
	log := c.logger.WithField("target", c.target)

	var (
		conn    net.Conn
		err     error
		network string
	)
	timer := check.StartTimer()
	for i, nw := range c.networks() {
		network = nw
		res["tcp.con.attempts"] = i + 1
		log.Infof("Connect via %s", nw)
		conn, err = c.dialOnce(ctx, nw)
		if err == nil {
			break
		}
		log.Warnf("Connect via %s failed: %v", nw, err)
	}
	timer.Record(res, "tcp.con")

	if err != nil {
		check.RecordFailure(res, Layer, err)
		return nil
	}

	res["tcp.success"] = true
	res["tcp.con.family"] = family(conn.RemoteAddr(), network)
	res["tcp.con.remote_addr"] = addrString(conn.RemoteAddr())
	res["tcp.con.local_addr"] = addrString(conn.LocalAddr())
	log.Infof("Connected to %s", res["tcp.con.remote_addr"])

	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	return newConn(ctx, conn)
}

func (c *Check) dialOnce(ctx context.Context, network string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.dial(ctx, network, c.target)
}

// Disconnect closes conn and records the close timing.
func (c *Check) Disconnect(conn net.Conn, res check.Results) {
	if conn == nil {
		return
	}
	timer := check.StartTimer()
	if err := conn.Close(); err != nil {
		c.logger.WithField("target", c.target).Debugf("Close failed: %v", err)
	}
	timer.Record(res, "tcp.close")
}

// Run connects, disconnects, and reports tcp.success as the overall result.
func (c *Check) Run(ctx context.Context) check.Results {
	res := check.NewResults()
	conn := c.Connect(ctx, res)
	c.Disconnect(conn, res)
	res[check.SuccessKey] = res.Bool("tcp.success")
	return res
}

// Factory returns a check.Factory that creates TCP checks from a
// "host:port" target and parameters, logging to logger.
func Factory(logger logrus.FieldLogger) check.Factory {
	if logger == nil {
		logger = logging.Discard()
	}
	return func(target string, params map[string]any) (check.Check, error) {
		host, port, err := ParseTarget(target)
		if err != nil {
			return nil, &check.ConfigError{Check: TypeName, Err: err}
		}
		c, err := New(host, port, option.New(Defaults, params), WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// ParseTarget splits a "host:port" target. IPv6 literals must be bracketed.
func ParseTarget(target string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("invalid target %q: %w", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		p, lookupErr := net.LookupPort("tcp", portStr)
		if lookupErr != nil {
			return "", 0, fmt.Errorf("invalid port %q in target %q", portStr, target)
		}
		port = p
	}
	return host, port, nil
}

// Conn is the connection handed to upper layers. Closing it stops the
// context watcher and closes the socket.
type Conn struct {
	net.Conn
	stop func() bool
	once sync.Once
}

func newConn(ctx context.Context, conn net.Conn) *Conn {
	return &Conn{
		Conn: conn,
		stop: context.AfterFunc(ctx, func() {
			// Unblock any pending read or write.
			_ = conn.SetDeadline(time.Unix(1, 0))
		}),
	}
}

// Close closes the underlying socket. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.stop()
		err = c.Conn.Close()
	})
	return err
}

func family(addr net.Addr, network string) string {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		if tcpAddr.IP.To4() != nil {
			return "ipv4"
		}
		return "ipv6"
	}
	if network == "tcp6" {
		return "ipv6"
	}
	return "ipv4"
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
