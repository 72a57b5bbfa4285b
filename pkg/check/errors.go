package check

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrTimeout indicates that a check attempt exceeded its deadline.
var ErrTimeout = errors.New("check timed out")

// ConfigError reports an invalid target or option value. Configuration
// errors are detected before any connection is attempted and are never
// retried.
type ConfigError struct {
	Check string
	Key   string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: option %s: %v", e.Check, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Check, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// UnsupportedSchemeError is returned when an HTTP check is given a URL
// whose scheme is neither http nor https.
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("unsupported URL scheme %q (supported: http, https)", e.Scheme)
}

// Error kinds recorded under "<layer>.error_kind".
const (
	KindTimeout           = "timeout"
	KindConnectionRefused = "connection_refused"
	KindDNS               = "dns_error"
	KindTLS               = "tls_error"
	KindError             = "error"
)

// Classify maps a layer failure to one of the Kind* constants.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNS
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	var alertErr tls.AlertError
	var recordErr tls.RecordHeaderError
	switch {
	case errors.As(err, &certErr), errors.As(err, &unknownAuth), errors.As(err, &hostErr),
		errors.As(err, &invalidErr), errors.As(err, &alertErr), errors.As(err, &recordErr):
		return KindTLS
	}
	msg := err.Error()
	if strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:") {
		return KindTLS
	}

	return KindError
}

// RecordFailure marks layer as failed in res with the error and its kind.
func RecordFailure(res Results, layer string, err error) {
	res[layer+"."+SuccessKey] = false
	if err != nil {
		res[layer+".error"] = err.Error()
		res[layer+".error_kind"] = Classify(err)
	}
}
