// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateHostAddr checks a host catalog address pattern. Accepted forms:
//
//	192.168.1.7        exact dotted quad
//	192.168.1.*        trailing segment wildcard
//	[10.0.0.1, 10.0.0.99]  inclusive range of dotted quads
func ValidateHostAddr(addr string) error {
	s := strings.TrimSpace(addr)
	if s == "" {
		return fmt.Errorf("empty host addr")
	}
	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, "]") {
			return fmt.Errorf("unterminated addr range %q", addr)
		}
		parts := strings.Split(s[1:len(s)-1], ",")
		if len(parts) != 2 {
			return fmt.Errorf("addr range %q must have exactly two endpoints", addr)
		}
		for _, p := range parts {
			if err := validateQuad(strings.TrimSpace(p), false); err != nil {
				return fmt.Errorf("addr range %q: %w", addr, err)
			}
		}
		return nil
	}
	return validateQuad(s, true)
}

func validateQuad(s string, allowWildcard bool) error {
	segs := strings.Split(s, ".")
	if len(segs) != 4 {
		return fmt.Errorf("%q is not a dotted quad", s)
	}
	for i, seg := range segs {
		if allowWildcard && seg == Wildcard && i == 3 {
			continue
		}
		n, err := strconv.Atoi(seg)
		if err != nil || n < 0 || n > 255 {
			return fmt.Errorf("%q has invalid segment %q", s, seg)
		}
	}
	return nil
}
