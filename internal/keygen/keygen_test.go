// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package keygen

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeType(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", TypeEd25519},
		{"ed25519", TypeEd25519},
		{"ED25519", TypeEd25519},
		{"rsa", TypeRSA},
		{"Rsa", TypeRSA},
		{"ecdsa", TypeECDSA},
		{" ecdsa ", TypeECDSA},
	}
	for _, c := range cases {
		got, err := NormalizeType(c.in)
		if err != nil {
			t.Errorf("NormalizeType(%q) unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("NormalizeType(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeTypeRejectsUnknown(t *testing.T) {
	for _, in := range []string{"dsa", "ed448", "rsa4096"} {
		if _, err := NormalizeType(in); !errors.Is(err, ErrBadKeyType) {
			t.Errorf("NormalizeType(%q) = %v, want ErrBadKeyType", in, err)
		}
	}
}

func TestGenerateEd25519(t *testing.T) {
	pair, err := Generate("")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if pair.KeyType != TypeEd25519 {
		t.Errorf("key type = %q, want %q", pair.KeyType, TypeEd25519)
	}
	if pair.KeyBits != 256 {
		t.Errorf("key bits = %d, want 256", pair.KeyBits)
	}
	if !strings.HasPrefix(pair.Fingerprint, "SHA256:") {
		t.Errorf("fingerprint %q should start with SHA256:", pair.Fingerprint)
	}
	if !strings.HasPrefix(pair.PublicKey, "ssh-ed25519 ") {
		t.Errorf("public key %q should be a single authorized_keys line", pair.PublicKey)
	}
	if strings.Contains(pair.PublicKey, "\n") {
		t.Error("public key must not contain newlines")
	}
	if !strings.Contains(pair.PrivateKey, "OPENSSH PRIVATE KEY") {
		t.Error("private key should be in OpenSSH PEM form")
	}
}

func TestGenerateECDSA(t *testing.T) {
	pair, err := Generate("ecdsa")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if pair.KeyBits != 521 {
		t.Errorf("key bits = %d, want 521", pair.KeyBits)
	}
	if !strings.HasPrefix(pair.PublicKey, "ecdsa-sha2-nistp521 ") {
		t.Errorf("unexpected public key prefix: %q", pair.PublicKey)
	}
}

func TestGenerateUniqueFingerprints(t *testing.T) {
	a, err := Generate("")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate("")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.Fingerprint == b.Fingerprint {
		t.Fatal("two generations produced the same fingerprint")
	}
}
