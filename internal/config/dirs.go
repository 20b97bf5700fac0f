// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// Dirs is the filesystem layout under the root data directory. All
// directories are owner-only.
type Dirs struct {
	Root       string
	Certs      string
	Config     string
	Database   string
	Migrations string
	Logs       string
}

// NewDirs computes the layout for a root directory without touching disk.
func NewDirs(root string) *Dirs {
	return &Dirs{
		Root:       root,
		Certs:      filepath.Join(root, "certs"),
		Config:     filepath.Join(root, "config"),
		Database:   filepath.Join(root, "database"),
		Migrations: filepath.Join(root, "migrations"),
		Logs:       filepath.Join(root, "logs"),
	}
}

// DatabaseFile is the sqlite database path.
func (d *Dirs) DatabaseFile() string { return filepath.Join(d.Database, "tms.db") }

// ConfigFile is the TOML configuration path.
func (d *Dirs) ConfigFile() string { return filepath.Join(d.Config, "tms.toml") }

// LogConfigFile is the declarative logging configuration path.
func (d *Dirs) LogConfigFile() string { return filepath.Join(d.Config, "tmslog.yml") }

// CertFile and KeyFile are the TLS material paths.
func (d *Dirs) CertFile() string { return filepath.Join(d.Certs, "cert.pem") }
func (d *Dirs) KeyFile() string  { return filepath.Join(d.Certs, "key.pem") }

// Init materializes the directory layout with 0700 permissions. Existing
// directories are verified, not recreated.
func (d *Dirs) Init() error {
	for _, dir := range []string{d.Root, d.Certs, d.Config, d.Database, d.Migrations, d.Logs} {
		info, err := os.Stat(dir)
		switch {
		case err == nil:
			if !info.IsDir() {
				return fmt.Errorf("path %s exists and is not a directory", dir)
			}
		case os.IsNotExist(err):
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("could not create directory %s: %w", dir, err)
			}
		default:
			return fmt.Errorf("could not stat %s: %w", dir, err)
		}
	}
	return nil
}

// WriteDefaultConfig writes a commented tms.toml if none exists.
func (d *Dirs) WriteDefaultConfig() error {
	path := d.ConfigFile()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	doc := fmt.Sprintf(`# TMS server configuration.
title = %q
http_addr = %q
http_port = %d

# When true, mint auto-provisions missing MFA, delegation and user-host
# rows and forces new_clients = "disallow".
enable_mvp = false

# One of "allow", "disallow", "on_approval".
new_clients = "allow"

# Operations naming the "test" tenant are rejected while this is false.
enable_test_tenant = false

server_urls = []
`, defaultTitle, defaultHTTPAddr, defaultHTTPPort)
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	return nil
}

// EnsureSelfSignedCert generates a self-signed certificate for localhost
// when the certs directory is empty. Deployments replace these with real
// material; the files only need to exist for HTTPS startup.
func (d *Dirs) EnsureSelfSignedCert() error {
	if _, err := os.Stat(d.CertFile()); err == nil {
		return nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("could not generate TLS key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("could not generate serial: %w", err)
	}
	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "localhost", Organization: []string{"TMS"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("could not create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("could not marshal TLS key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(d.CertFile(), certPEM, 0o600); err != nil {
		return fmt.Errorf("could not write cert.pem: %w", err)
	}
	if err := os.WriteFile(d.KeyFile(), keyPEM, 0o600); err != nil {
		return fmt.Errorf("could not write key.pem: %w", err)
	}
	return nil
}
