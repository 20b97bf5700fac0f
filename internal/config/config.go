// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads the server configuration from the TOML file under
// the TMS root directory and resolves the root directory itself from the
// environment or the command line (the environment wins).
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// New-client admission policies.
const (
	NewClientsAllow      = "allow"
	NewClientsDisallow   = "disallow"
	NewClientsOnApproval = "on_approval"
)

// EnvRootDir overrides the root data directory when set. It takes
// precedence over the --root-dir flag.
const EnvRootDir = "TMS_ROOT_DIR"

// DefaultRootDir is the root data directory when neither the environment
// nor the command line names one.
const DefaultRootDir = "~/.tms"

const (
	defaultTitle    = "TMS Server"
	defaultHTTPAddr = "https://localhost"
	defaultHTTPPort = 3000
)

// Config is the parsed tms.toml document.
type Config struct {
	Title            string   `mapstructure:"title"`
	HTTPAddr         string   `mapstructure:"http_addr"`
	HTTPPort         int      `mapstructure:"http_port"`
	EnableMVP        bool     `mapstructure:"enable_mvp"`
	NewClients       string   `mapstructure:"new_clients"`
	EnableTestTenant bool     `mapstructure:"enable_test_tenant"`
	ServerURLs       []string `mapstructure:"server_urls"`
}

// ResolveRootDir returns the absolute root data directory. flagValue is the
// --root-dir command line value and may be empty.
func ResolveRootDir(flagValue string) (string, error) {
	dir := flagValue
	if env := os.Getenv(EnvRootDir); env != "" {
		dir = env
	}
	if dir == "" {
		dir = DefaultRootDir
	}
	return absolutize(dir)
}

// absolutize expands a leading tilde and makes the path absolute. The path
// need not exist.
func absolutize(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("could not absolutize %q: %w", path, err)
	}
	return abs, nil
}

// Load reads <root>/config/tms.toml. A missing file is not an error; the
// defaults apply. A malformed file is fatal.
func Load(rootDir string) (*Config, error) {
	v := viper.New()
	v.SetDefault("title", defaultTitle)
	v.SetDefault("http_addr", defaultHTTPAddr)
	v.SetDefault("http_port", defaultHTTPPort)
	v.SetDefault("enable_mvp", false)
	v.SetDefault("new_clients", NewClientsAllow)
	v.SetDefault("enable_test_tenant", false)
	v.SetDefault("server_urls", []string{})

	v.SetConfigName("tms")
	v.SetConfigType("toml")
	v.AddConfigPath(filepath.Join(rootDir, "config"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading configuration file: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	// MVP deployments mint auto-provisioned credentials, so client
	// self-registration is shut off.
	if c.EnableMVP {
		c.NewClients = NewClientsDisallow
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.NewClients {
	case NewClientsAllow, NewClientsDisallow, NewClientsOnApproval:
	default:
		return fmt.Errorf("new_clients must be one of allow, disallow, on_approval; got %q", c.NewClients)
	}
	u, err := url.Parse(c.HTTPAddr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("http_addr must be scheme-qualified with http or https: %q", c.HTTPAddr)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port out of range: %d", c.HTTPPort)
	}
	return nil
}

// TLS reports whether the configured address scheme asks for HTTPS.
func (c *Config) TLS() bool {
	return strings.HasPrefix(c.HTTPAddr, "https:")
}
