// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package policy

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashClientSecret returns the SHA-256 hex digest stored in place of a client
// secret. Client secrets are machine-generated high-entropy strings, so a
// plain digest (no salt, no work factor) is deliberate: verification happens
// on every mint and must stay cheap.
func HashClientSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifyClientSecret compares a stored digest with a presented secret in
// constant time.
func VerifyClientSecret(storedHash, presented string) bool {
	computed := HashClientSecret(presented)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(computed)) == 1
}
