// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

// Package version carries the build identity, overridden at link time:
//
//	go build -ldflags "-X github.com/trustmgr/tms/internal/version.Version=v1.2.3"
package version

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
