// Package tls implements a TLS handshake check layered over the TCP check.
//
// The TCP connection is established first; the handshake is then performed
// explicitly over it. Certificate verification is configured through
// ssl.* options modelled on OpenSSL's client context: a verify mode, a
// hostname check flag, verify flags, and a trust source that is either the
// system store, a CA bundle file, or a directory of CA files.
package tls

import (
	"context"
	gotls "crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/kylerisse/chksrv/pkg/check"
	"github.com/kylerisse/chksrv/pkg/check/tcp"
	"github.com/kylerisse/chksrv/pkg/logging"
	"github.com/kylerisse/chksrv/pkg/option"
	"github.com/sirupsen/logrus"
)

const (
	// TypeName is the registered name for this check type.
	TypeName = "tls"

	// Layer is the result key namespace written by this check.
	Layer = "ssl"

	// SystemCA selects the system trust store as ssl.ca.
	SystemCA = "__sys__"
)

// Defaults is the default option layer of the TLS check, including the
// TCP defaults.
var Defaults = option.Merge(tcp.Defaults, option.Defaults{
	"ssl.use_default_context": true,
	"ssl.protocol":            "TLS",
	"ssl.ciphers":             "ALL",
	"ssl.check_hostname":      false,
	"ssl.verify_mode":         string(CertOptional),
	"ssl.verify_flags":        "VERIFY_DEFAULT",
	"ssl.ca":                  SystemCA,
	"ssl.alpn":                nil,
	"ssl.server_hostname":     nil,
})

// VerifyMode controls peer certificate verification.
type VerifyMode string

const (
	CertNone     VerifyMode = "CERT_NONE"
	CertOptional VerifyMode = "CERT_OPTIONAL"
	CertRequired VerifyMode = "CERT_REQUIRED"
)

// verifyFlags lists the accepted ssl.verify_flags names and whether the
// verifier applies them. Only VERIFY_DEFAULT is; the others are accepted
// and logged as not enforced on every connection.
var verifyFlags = map[string]bool{
	"VERIFY_DEFAULT":            true,
	"VERIFY_X509_STRICT":        false,
	"VERIFY_X509_TRUSTED_FIRST": false,
	"VERIFY_X509_PARTIAL_CHAIN": false,
	"VERIFY_CRL_CHECK_LEAF":     false,
	"VERIFY_CRL_CHECK_CHAIN":    false,
	"VERIFY_ALLOW_PROXY_CERTS":  false,
}

// protocols maps ssl.protocol names to a min/max version pair. Zero means
// the crypto/tls default. Unsupported legacy protocols fall back to "tls".
var protocols = map[string][2]uint16{
	"tls":     {gotls.VersionTLS10, 0},
	"sslv2":   {gotls.VersionTLS10, 0},
	"sslv3":   {gotls.VersionTLS10, 0},
	"tlsv1":   {gotls.VersionTLS10, gotls.VersionTLS10},
	"tlsv1.1": {gotls.VersionTLS11, gotls.VersionTLS11},
	"tlsv1.2": {gotls.VersionTLS12, gotls.VersionTLS12},
	"tlsv1.3": {gotls.VersionTLS13, gotls.VersionTLS13},
}

// Check implements check.Layer for TLS over TCP.
type Check struct {
	inner         *tcp.Check
	serverName    string
	options       *option.Set
	useDefault    bool
	minVersion    uint16
	maxVersion    uint16
	cipherSuites  []uint16
	checkHostname bool
	verifyMode    VerifyMode
	verifyFlags   []string
	ca            any
	alpn          []string
	logger        logrus.FieldLogger
}

// Option is a functional option for configuring a TLS Check.
type Option func(*Check) error

// WithLogger sets the logger of the TLS check and its TCP layer.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Check) error {
		c.logger = logger
		return nil
	}
}

// New creates a TLS Check for host:port. The TCP layer is built from the
// same option set. tcpOpts are passed to the TCP layer.
func New(host string, port int, set *option.Set, opts []Option, tcpOpts ...tcp.Option) (*Check, error) {
	if set == nil {
		set = option.New(Defaults, nil)
	}

	c := &Check{
		options: set,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("tls: %w", err)
		}
	}

	inner, err := tcp.New(host, port, set, append([]tcp.Option{tcp.WithLogger(c.logger)}, tcpOpts...)...)
	if err != nil {
		return nil, err
	}
	c.inner = inner

	if err := c.configure(host); err != nil {
		return nil, err
	}
	return c, nil
}

// configure validates and stores the ssl.* options.
func (c *Check) configure(host string) error {
	set := c.options
	var err error

	if c.useDefault, err = set.Bool("ssl.use_default_context"); err != nil {
		return configErr("ssl.use_default_context", err)
	}
	if c.checkHostname, err = set.Bool("ssl.check_hostname"); err != nil {
		return configErr("ssl.check_hostname", err)
	}

	c.serverName = host
	if name, ok, err := set.String("ssl.server_hostname"); err != nil {
		return configErr("ssl.server_hostname", err)
	} else if ok && name != "" {
		c.serverName = name
	}

	mode, _, err := set.String("ssl.verify_mode")
	if err != nil {
		return configErr("ssl.verify_mode", err)
	}
	c.verifyMode = VerifyMode(strings.ToUpper(mode))
	switch c.verifyMode {
	case CertNone, CertOptional, CertRequired:
	default:
		return configErr("ssl.verify_mode", fmt.Errorf("unknown verify mode %q", mode))
	}
	if c.verifyMode == CertNone && c.checkHostname {
		return configErr("ssl.verify_mode", errors.New("CERT_NONE cannot be combined with ssl.check_hostname"))
	}

	flags, _, err := set.String("ssl.verify_flags")
	if err != nil {
		return configErr("ssl.verify_flags", err)
	}
	for _, f := range strings.Split(flags, "|") {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, ok := verifyFlags[f]; !ok {
			return configErr("ssl.verify_flags", fmt.Errorf("unknown verify flag %q", f))
		}
		c.verifyFlags = append(c.verifyFlags, f)
	}

	if !c.useDefault {
		proto, _, err := set.String("ssl.protocol")
		if err != nil {
			return configErr("ssl.protocol", err)
		}
		versions, ok := protocols[strings.ToLower(proto)]
		if !ok {
			c.logger.Warnf("Unknown SSL protocol %q, using TLS", proto)
			versions = protocols["tls"]
		}
		c.minVersion, c.maxVersion = versions[0], versions[1]

		ciphers, _, err := set.String("ssl.ciphers")
		if err != nil {
			return configErr("ssl.ciphers", err)
		}
		if c.cipherSuites, err = parseCiphers(ciphers, c.logger); err != nil {
			return configErr("ssl.ciphers", err)
		}
	}

	if c.ca, err = set.Get("ssl.ca"); err != nil {
		return configErr("ssl.ca", err)
	}

	alpn, ok, err := set.String("ssl.alpn")
	if err != nil {
		return configErr("ssl.alpn", err)
	}
	if ok {
		for _, p := range strings.Split(alpn, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.alpn = append(c.alpn, p)
			}
		}
	}
	return nil
}

func configErr(key string, err error) error {
	return &check.ConfigError{Check: TypeName, Key: key, Err: err}
}

// parseCiphers turns a colon-separated list of IANA cipher suite names into
// suite IDs. "ALL" selects every suite crypto/tls implements, "DEFAULT" the
// crypto/tls defaults.
func parseCiphers(spec string, logger logrus.FieldLogger) ([]uint16, error) {
	all := append(gotls.CipherSuites(), gotls.InsecureCipherSuites()...)
	switch strings.ToUpper(strings.TrimSpace(spec)) {
	case "", "DEFAULT":
		return nil, nil
	case "ALL":
		ids := make([]uint16, 0, len(all))
		for _, s := range all {
			ids = append(ids, s.ID)
		}
		return ids, nil
	}

	byName := make(map[string]uint16, len(all))
	for _, s := range all {
		byName[s.Name] = s.ID
	}
	var ids []uint16
	for _, name := range strings.Split(spec, ":") {
		name = strings.TrimSpace(name)
		if id, ok := byName[name]; ok {
			ids = append(ids, id)
			continue
		}
		logger.Warnf("Ignoring unknown cipher suite %q", name)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no cipher can be selected from %q", spec)
	}
	return ids, nil
}

// Type returns the check type name.
func (c *Check) Type() string {
	return TypeName
}

// Describe returns the Descriptor for this check instance.
func (c *Check) Describe() check.Descriptor {
	d := c.inner.Describe()
	d.Type = TypeName
	d.Layers = append(d.Layers, Layer)
	return d
}

// Connect establishes the TCP connection, performs the TLS handshake over
// it, and records ssl.* results. On failure the TCP connection is closed
// and nil is returned.
func (c *Check) Connect(ctx context.Context, res check.Results) net.Conn {
	log := c.logger.WithField("target", c.inner.Describe().Target)

	raw := c.inner.Connect(ctx, res)
	if raw == nil {
		check.RecordFailure(res, Layer, errors.New("no TCP connection"))
		return nil
	}

	cfg, err := c.config(res, log)
	if err != nil {
		log.Errorf("Cannot build TLS context: %v", err)
		check.RecordFailure(res, Layer, err)
		c.inner.Disconnect(raw, res)
		return nil
	}

	conn := gotls.Client(raw, cfg)
	log.Info("Start TLS handshake")
	timer := check.StartTimer()
	if err := conn.HandshakeContext(ctx); err != nil {
		log.Errorf("TLS handshake failed: %v", err)
		check.RecordFailure(res, Layer, err)
		c.inner.Disconnect(raw, res)
		return nil
	}
	timer.Record(res, "ssl.handshake")

	c.recordState(res, conn.ConnectionState(), cfg.ServerName)
	log.Infof("TLS handshake done: %s %s", res["ssl.con.ssl_version"], res["ssl.con.cipher"])
	return conn
}

// config builds the client configuration for one connection. Peer
// verification runs in VerifyConnection so that chain and hostname checks
// can be enabled independently.
func (c *Check) config(res check.Results, log logrus.FieldLogger) (*gotls.Config, error) {
	if c.useDefault {
		log.Info("Using system default TLS context")
	} else {
		log.Info("Creating TLS context")
	}

	roots, source, err := c.loadRoots(log)
	if err != nil {
		return nil, err
	}
	res["ssl.ca.source"] = source
	log.Debugf("TLS verify mode: %s, flags: %v", c.verifyMode, c.verifyFlags)
	for _, f := range c.verifyFlags {
		if !verifyFlags[f] {
			log.Warnf("Verify flag %s is not enforced", f)
		}
	}

	cfg := &gotls.Config{
		ServerName:         c.serverName,
		NextProtos:         c.alpn,
		MinVersion:         c.minVersion,
		MaxVersion:         c.maxVersion,
		CipherSuites:       c.cipherSuites,
		InsecureSkipVerify: true,
	}
	if c.verifyMode != CertNone {
		cfg.VerifyConnection = func(cs gotls.ConnectionState) error {
			return c.verifyPeer(cs, roots)
		}
	}
	return cfg, nil
}

func (c *Check) verifyPeer(cs gotls.ConnectionState, roots *x509.CertPool) error {
	if len(cs.PeerCertificates) == 0 {
		return errors.New("tls: peer did not present a certificate")
	}
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if c.checkHostname {
		opts.DNSName = c.serverName
	}
	_, err := cs.PeerCertificates[0].Verify(opts)
	return err
}

// recordState writes the negotiated session parameters.
func (c *Check) recordState(res check.Results, st gotls.ConnectionState, serverName string) {
	cipher := gotls.CipherSuiteName(st.CipherSuite)
	version := versionName(st.Version)

	res["ssl.success"] = true
	res["ssl.con.cipher"] = cipher
	res["ssl.con.protocol"] = version
	res["ssl.con.ssl_version"] = version
	res["ssl.con.secret_bits"] = secretBits(cipher)
	res["ssl.con.compression"] = nil
	res["ssl.con.npn_protocol"] = nil
	res["ssl.con.alpn_protocol"] = nil
	if st.NegotiatedProtocol != "" {
		res["ssl.con.alpn_protocol"] = st.NegotiatedProtocol
	}
	res["ssl.con.server_hostname"] = serverName
	res["ssl.con.cert"] = map[string]any{}
	if len(st.PeerCertificates) > 0 {
		res["ssl.con.cert"] = certInfo(st.PeerCertificates[0])
	}
}

// Disconnect sends close_notify, timing it as the shutdown, and then closes
// the TCP connection.
func (c *Check) Disconnect(conn net.Conn, res check.Results) {
	if conn == nil {
		return
	}
	tc, ok := conn.(*gotls.Conn)
	if !ok {
		c.inner.Disconnect(conn, res)
		return
	}
	timer := check.StartTimer()
	if err := tc.CloseWrite(); err != nil {
		c.logger.Debugf("TLS shutdown failed: %v", err)
	}
	timer.Record(res, "ssl.shutdown")
	c.inner.Disconnect(tc.NetConn(), res)
}

// Run connects, disconnects, and reports success when both the TCP and
// TLS layers succeeded.
func (c *Check) Run(ctx context.Context) check.Results {
	res := check.NewResults()
	conn := c.Connect(ctx, res)
	c.Disconnect(conn, res)
	res[check.SuccessKey] = res.Bool("tcp.success") && res.Bool("ssl.success")
	return res
}

// Factory returns a check.Factory that creates TLS checks from a
// "host:port" target and parameters. logger is used by the TLS and TCP
// layers.
func Factory(logger logrus.FieldLogger) check.Factory {
	if logger == nil {
		logger = logging.Discard()
	}
	return func(target string, params map[string]any) (check.Check, error) {
		host, port, err := tcp.ParseTarget(target)
		if err != nil {
			return nil, &check.ConfigError{Check: TypeName, Err: err}
		}
		c, err := New(host, port, option.New(Defaults, params), []Option{WithLogger(logger)}, tcp.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func versionName(v uint16) string {
	switch v {
	case gotls.VersionTLS10:
		return "TLSv1"
	case gotls.VersionTLS11:
		return "TLSv1.1"
	case gotls.VersionTLS12:
		return "TLSv1.2"
	case gotls.VersionTLS13:
		return "TLSv1.3"
	default:
		return "0x" + strconv.FormatUint(uint64(v), 16)
	}
}

// secretBits derives the symmetric key size from a cipher suite name.
func secretBits(cipher string) int {
	switch {
	case strings.Contains(cipher, "AES_256"), strings.Contains(cipher, "CHACHA20"):
		return 256
	case strings.Contains(cipher, "AES_128"), strings.Contains(cipher, "RC4_128"):
		return 128
	case strings.Contains(cipher, "3DES"):
		return 168
	default:
		return 0
	}
}
