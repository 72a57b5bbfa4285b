package tls

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Trust sources recorded under ssl.ca.source.
const (
	SourceSystem   = "system"
	SourceFile     = "file"
	SourceDir      = "dir"
	SourceFallback = "system-fallback"
)

// loadRoots resolves ssl.ca into a root pool.
//
// A value that is neither the system sentinel, an existing file, nor an
// existing directory falls back to the system store rather than failing.
func (c *Check) loadRoots(log logrus.FieldLogger) (*x509.CertPool, string, error) {
	path, _ := c.ca.(string)
	if c.ca == nil || path == SystemCA {
		log.Info("Load system certificate authorities")
		pool, err := systemPool()
		return pool, SourceSystem, err
	}

	info, err := os.Stat(path)
	if err != nil {
		log.Warnf("CA path %q does not exist, using system certificate authorities", path)
		pool, err := systemPool()
		return pool, SourceFallback, err
	}

	pool, err := c.basePool()
	if err != nil {
		return nil, "", err
	}

	if info.Mode().IsRegular() {
		log.Infof("Load CA file: %s", path)
		if err := appendFile(pool, path); err != nil {
			return nil, "", err
		}
		return pool, SourceFile, nil
	}

	if info.IsDir() {
		log.Infof("Load all CAs from directory: %s", path)
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, "", fmt.Errorf("read CA directory: %w", err)
		}
		loaded := 0
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := appendFile(pool, filepath.Join(path, e.Name())); err != nil {
				log.Debugf("Skipping %s: %v", e.Name(), err)
				continue
			}
			loaded++
		}
		log.Infof("Loaded %d CA files", loaded)
		return pool, SourceDir, nil
	}

	log.Warnf("CA path %q is neither file nor directory, using system certificate authorities", path)
	pool, err = systemPool()
	return pool, SourceFallback, err
}

// basePool is the pool explicit CA files are added to: the system store
// for the default context, an empty pool otherwise.
func (c *Check) basePool() (*x509.CertPool, error) {
	if c.useDefault {
		return systemPool()
	}
	return x509.NewCertPool(), nil
}

// systemPool returns the system trust store, or an empty pool when the
// platform has none.
func systemPool() (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		return x509.NewCertPool(), nil
	}
	return pool, nil
}

func appendFile(pool *x509.CertPool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read CA file: %w", err)
	}
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("no PEM certificates in %s", path)
	}
	return nil
}

// certInfo summarizes a peer certificate for the result set.
func certInfo(cert *x509.Certificate) map[string]any {
	sum := sha256.Sum256(cert.Raw)
	ips := make([]string, 0, len(cert.IPAddresses))
	for _, ip := range cert.IPAddresses {
		ips = append(ips, ip.String())
	}
	return map[string]any{
		"subject":            cert.Subject.String(),
		"issuer":             cert.Issuer.String(),
		"serial":             cert.SerialNumber.String(),
		"not_before":         cert.NotBefore,
		"not_after":          cert.NotAfter,
		"dns_names":          cert.DNSNames,
		"ip_addresses":       ips,
		"version":            cert.Version,
		"signature_algo":     cert.SignatureAlgorithm.String(),
		"fingerprint_sha256": hex.EncodeToString(sum[:]),
	}
}
