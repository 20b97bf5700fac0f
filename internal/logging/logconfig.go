// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	clog "github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// RootDirPlaceholder is substituted once, at install time, when the
// logging configuration template is written out.
const RootDirPlaceholder = "{{TMS_ROOT_DIR}}"

// LogConfig is the declarative logging file (tmslog.yml).
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, logfmt, json
	Output string `yaml:"output"` // file path; empty means stderr
}

// DefaultTemplate is the logging file written at install time, before the
// root-dir placeholder has been substituted.
const DefaultTemplate = `# TMS logging configuration.
level: info
format: text
output: "` + RootDirPlaceholder + `/logs/tms.log"
`

// RenderTemplate substitutes the root directory into the template.
func RenderTemplate(rootDir string) string {
	return strings.ReplaceAll(DefaultTemplate, RootDirPlaceholder, rootDir)
}

// Configure loads the logging file and reconfigures the package logger.
// A missing file leaves the defaults in place.
func Configure(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("could not read logging configuration %s: %w", path, err)
	}

	var lc LogConfig
	if err := yaml.Unmarshal(data, &lc); err != nil {
		return fmt.Errorf("could not parse logging configuration %s: %w", path, err)
	}

	var out io.Writer = os.Stderr
	if lc.Output != "" {
		f, err := os.OpenFile(lc.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("could not open log output %s: %w", lc.Output, err)
		}
		out = f
	}

	opts := clog.Options{ReportTimestamp: true}
	switch strings.ToLower(lc.Format) {
	case "", "text":
		opts.Formatter = clog.TextFormatter
	case "logfmt":
		opts.Formatter = clog.LogfmtFormatter
	case "json":
		opts.Formatter = clog.JSONFormatter
	default:
		return fmt.Errorf("unknown log format %q", lc.Format)
	}

	logger := clog.NewWithOptions(out, opts)
	switch strings.ToLower(lc.Level) {
	case "debug":
		logger.SetLevel(clog.DebugLevel)
	case "", "info":
		logger.SetLevel(clog.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(clog.WarnLevel)
	case "error":
		logger.SetLevel(clog.ErrorLevel)
	default:
		return fmt.Errorf("unknown log level %q", lc.Level)
	}

	L = logger
	return nil
}
