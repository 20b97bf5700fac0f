// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"fmt"
	"time"
)

// NeverExpires is the sentinel timestamp meaning "no expiry". It is stored
// verbatim and compared by identity, never parsed.
const NeverExpires = "+262142-12-31T23:59:59Z"

// TimestampLayout is the storage format for all created/updated/expires_at
// columns: UTC ISO-8601 with microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp renders t as a storage timestamp in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Now returns the current instant as a storage timestamp.
func Now() string {
	return Timestamp(time.Now())
}

// ExpiryFromTTL computes an absolute expiration from a TTL in minutes.
// A TTL of zero means unlimited lifetime and yields the never sentinel.
func ExpiryFromTTL(now time.Time, ttlMinutes int) string {
	if ttlMinutes <= 0 {
		return NeverExpires
	}
	return Timestamp(now.Add(time.Duration(ttlMinutes) * time.Minute))
}

// ParseTimestamp parses a storage timestamp. The never sentinel is not
// parseable and must be checked with IsNever before calling.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		// Accept plain RFC3339 for values written by external tooling.
		t, err2 := time.Parse(time.RFC3339, s)
		if err2 == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// IsNever reports whether s is the never sentinel.
func IsNever(s string) bool {
	return s == NeverExpires
}

// IsExpired reports whether the expiration s has passed at instant now.
// The never sentinel is never expired; an unparseable value is treated as
// expired so that corrupt rows fail closed.
func IsExpired(s string, now time.Time) bool {
	if IsNever(s) {
		return false
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return true
	}
	return !t.After(now.UTC())
}

// MinExpiry returns the earlier of two expirations, treating the never
// sentinel as latest.
func MinExpiry(a, b string) string {
	if IsNever(a) {
		return b
	}
	if IsNever(b) {
		return a
	}
	ta, errA := ParseTimestamp(a)
	tb, errB := ParseTimestamp(b)
	if errA != nil {
		return b
	}
	if errB != nil {
		return a
	}
	if tb.Before(ta) {
		return b
	}
	return a
}
