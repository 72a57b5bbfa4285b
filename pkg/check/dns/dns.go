// Package dns implements a DNS query check that resolves a name against a
// server and optionally validates the answer against an expected value.
// The check succeeds when the query is answered with NOERROR and, if
// dns.expect is set, one of the answers matches it.
package dns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kylerisse/chksrv/pkg/check"
	"github.com/kylerisse/chksrv/pkg/logging"
	"github.com/kylerisse/chksrv/pkg/option"
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

const (
	// TypeName is the registered name for this check type.
	TypeName = "dns"

	// Layer is the result key namespace written by this check.
	Layer = "dns"

	// DefaultTimeout is the default DNS query timeout.
	DefaultTimeout = 3 * time.Second

	// ResolvConf is where the default server is read from.
	ResolvConf = "/etc/resolv.conf"

	fallbackServer = "127.0.0.1:53"
)

// Defaults is the default option layer of the DNS check.
var Defaults = option.Defaults{
	"dns.server":  nil,
	"dns.type":    "A",
	"dns.timeout": DefaultTimeout.Seconds(),
	"dns.expect":  nil,
}

// Check implements check.Check using a single DNS query.
type Check struct {
	name       string // query name as provided (without trailing dot)
	qtype      uint16
	expect     string
	server     string // host:port of the DNS server
	timeout    time.Duration
	options    *option.Set
	resolvConf string
	client     *dns.Client
	logger     logrus.FieldLogger
}

// Option is a functional option for configuring a DNS Check.
type Option func(*Check) error

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Check) error {
		c.logger = logger
		return nil
	}
}

// WithResolvConf reads the default server from path instead of ResolvConf.
func WithResolvConf(path string) Option {
	return func(c *Check) error {
		c.resolvConf = path
		return nil
	}
}

// New creates a DNS Check for name.
func New(name string, set *option.Set, opts ...Option) (*Check, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if name == "" {
		return nil, &check.ConfigError{Check: TypeName, Err: fmt.Errorf("name must not be empty")}
	}
	if set == nil {
		set = option.New(Defaults, nil)
	}

	c := &Check{
		name:       name,
		options:    set,
		resolvConf: ResolvConf,
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("dns: %w", err)
		}
	}

	typeStr, _, err := set.String("dns.type")
	if err != nil {
		return nil, &check.ConfigError{Check: TypeName, Key: "dns.type", Err: err}
	}
	if c.qtype, err = parseQType(typeStr); err != nil {
		return nil, &check.ConfigError{Check: TypeName, Key: "dns.type", Err: err}
	}

	if c.timeout, err = set.Duration("dns.timeout"); err != nil {
		return nil, &check.ConfigError{Check: TypeName, Key: "dns.timeout", Err: err}
	}
	if c.timeout <= 0 {
		return nil, &check.ConfigError{Check: TypeName, Key: "dns.timeout", Err: fmt.Errorf("timeout must be positive, got %v", c.timeout)}
	}

	if c.expect, _, err = set.String("dns.expect"); err != nil {
		return nil, &check.ConfigError{Check: TypeName, Key: "dns.expect", Err: err}
	}

	server, ok, err := set.String("dns.server")
	if err != nil {
		return nil, &check.ConfigError{Check: TypeName, Key: "dns.server", Err: err}
	}
	if !ok || server == "" {
		server = c.defaultServer()
	}
	c.server = withPort(server)
	set.Set("dns.server", c.server)

	c.client = &dns.Client{Timeout: c.timeout}
	return c, nil
}

// defaultServer returns the first nameserver of the resolver configuration,
// or the local resolver when none can be read.
func (c *Check) defaultServer() string {
	cfg, err := dns.ClientConfigFromFile(c.resolvConf)
	if err != nil || len(cfg.Servers) == 0 {
		c.logger.Debugf("No nameserver from %s, using %s", c.resolvConf, fallbackServer)
		return fallbackServer
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

func withPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), "53")
}

// Type returns the check type name.
func (c *Check) Type() string {
	return TypeName
}

// Describe returns the Descriptor for this check instance.
func (c *Check) Describe() check.Descriptor {
	return check.Descriptor{
		Type:    TypeName,
		Target:  c.name,
		Host:    c.name,
		Layers:  []string{Layer},
		Options: c.options.Values(),
	}
}

// Server returns the host:port the query is sent to.
func (c *Check) Server() string {
	return c.server
}

// Run sends the query and records dns.* results.
func (c *Check) Run(ctx context.Context) check.Results {
	res := check.NewResults()
	log := c.logger.WithFields(logrus.Fields{"name": c.name, "server": c.server})

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(c.name), c.qtype)
	msg.RecursionDesired = true

	res["dns.server"] = c.server
	res["dns.type"] = qtypeName(c.qtype)

	log.Infof("Query %s %s", qtypeName(c.qtype), c.name)
	timer := check.StartTimer()
	resp, rtt, err := c.client.ExchangeContext(ctx, msg, c.server)
	timer.Record(res, "dns.query")

	if err != nil {
		log.Warnf("Query failed: %v", err)
		check.RecordFailure(res, Layer, err)
		res[check.SuccessKey] = false
		return res
	}

	answers := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		answers = append(answers, answerValue(rr))
	}
	res["dns.rtt"] = float64(rtt.Microseconds()) / 1000
	res["dns.rcode"] = dns.RcodeToString[resp.Rcode]
	res["dns.answers"] = answers
	res["dns.answer_count"] = len(answers)

	switch {
	case resp.Rcode != dns.RcodeSuccess:
		check.RecordFailure(res, Layer, &net.DNSError{
			Err:        "rcode " + dns.RcodeToString[resp.Rcode],
			Name:       c.name,
			Server:     c.server,
			IsNotFound: resp.Rcode == dns.RcodeNameError,
		})
	case c.expect != "":
		if err := validateAnswer(resp.Answer, c.qtype, c.expect); err != nil {
			check.RecordFailure(res, Layer, fmt.Errorf("dns %s %s: %w", qtypeName(c.qtype), c.name, err))
			break
		}
		res["dns.success"] = true
	default:
		res["dns.success"] = true
	}
	if !res.Bool("dns.success") {
		log.Warnf("Query unsuccessful: %v", res["dns.error"])
	}

	res[check.SuccessKey] = res.Bool("dns.success")
	return res
}

// answerValue returns the data part of an answer record.
func answerValue(rr dns.RR) string {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String()
	case *dns.AAAA:
		return v.AAAA.String()
	case *dns.PTR:
		return normalizeFQDN(v.Ptr)
	case *dns.CNAME:
		return normalizeFQDN(v.Target)
	case *dns.NS:
		return normalizeFQDN(v.Ns)
	case *dns.MX:
		return fmt.Sprintf("%d %s", v.Preference, normalizeFQDN(v.Mx))
	case *dns.TXT:
		return strings.Join(v.Txt, "")
	default:
		return strings.TrimPrefix(rr.String(), rr.Header().String())
	}
}

// validateAnswer checks that at least one RR in the answer section matches
// the expected value for the given query type.
func validateAnswer(rrs []dns.RR, qtype uint16, expect string) error {
	for _, rr := range rrs {
		if rr.Header().Rrtype != qtype {
			continue
		}
		switch qtype {
		case dns.TypeA, dns.TypeAAAA:
			if normalizeIP(answerValue(rr)) == normalizeIP(expect) {
				return nil
			}
		default:
			if strings.EqualFold(answerValue(rr), normalizeFQDN(expect)) {
				return nil
			}
		}
	}
	return fmt.Errorf("expected %q not found in answer", expect)
}

// normalizeIP parses and re-serializes an IP address string for comparison,
// handling IPv4-in-IPv6 representations and leading zeros.
func normalizeIP(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	return ip.String()
}

// normalizeFQDN strips the trailing dot so that "example.com." and "example.com"
// compare equal.
func normalizeFQDN(s string) string {
	return strings.TrimSuffix(s, ".")
}

func qtypeName(qtype uint16) string {
	if name, ok := dns.TypeToString[qtype]; ok {
		return name
	}
	return fmt.Sprintf("TYPE%d", qtype)
}

// supportedTypes are the record types accepted by dns.type.
var supportedTypes = map[string]uint16{
	"A":     dns.TypeA,
	"AAAA":  dns.TypeAAAA,
	"PTR":   dns.TypePTR,
	"CNAME": dns.TypeCNAME,
	"MX":    dns.TypeMX,
	"NS":    dns.TypeNS,
	"TXT":   dns.TypeTXT,
}

// parseQType converts a record type string to a miekg/dns type constant.
func parseQType(s string) (uint16, error) {
	if t, ok := supportedTypes[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("unsupported query type %q (supported: A, AAAA, PTR, CNAME, MX, NS, TXT)", s)
}

// Factory returns a check.Factory that creates DNS checks from a domain
// name target and parameters.
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
