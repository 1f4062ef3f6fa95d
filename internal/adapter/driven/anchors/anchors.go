// Package anchors loads the bundled trust anchors shipped with a deployment.
package anchors

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AnchorSource = Dir("")

// ErrNoCertificates is returned when a file holds no parseable certificate.
var ErrNoCertificates = errors.New("no certificates found")

var anchorExtensions = map[string]bool{
	".pem": true,
	".crt": true,
	".cer": true,
	".der": true,
}

// Dir is an AnchorSource reading PEM or DER certificates from a directory.
// An empty Dir yields no anchors.
type Dir string

// Anchors parses every certificate file in the directory, in name order.
func (d Dir) Anchors() ([]*x509.Certificate, error) {
	if d == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(string(d))
	if err != nil {
		return nil, fmt.Errorf("read anchor dir %s: %w", d, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !anchorExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []*x509.Certificate
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(string(d), name))
		if err != nil {
			return nil, fmt.Errorf("read anchor %s: %w", name, err)
		}
		certs, err := ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("parse anchor %s: %w", name, err)
		}
		out = append(out, certs...)
	}
	return out, nil
}

// ParseCertificates returns every CERTIFICATE block in PEM data, or the single
// certificate in DER data.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	sawPEM := false
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		sawPEM = true
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}

	if !sawPEM {
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, ErrNoCertificates
	}
	return certs, nil
}
