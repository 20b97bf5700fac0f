// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keygen produces the SSH key pairs minted by the credential
// kernel. It returns the private key in OpenSSH PEM form, the public key as
// a single authorized_keys line, and the SHA256:<base64> fingerprint of the
// public key's wire form.
package keygen

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Recognized key type names. The empty string selects Ed25519.
const (
	TypeRSA     = "RSA"
	TypeECDSA   = "ECDSA"
	TypeEd25519 = "ED25519"
)

// Key sizes are fixed: RSA is always 4096 bits, ECDSA always uses NIST
// P-521, Ed25519 is the standard 256-bit key.
const (
	rsaBits     = 4096
	ecdsaBits   = 521
	ed25519Bits = 256
)

// ErrBadKeyType is returned when a non-empty key type is not in the
// recognized set.
var ErrBadKeyType = errors.New("unrecognized key type")

// KeyPair is the result of a single generation.
type KeyPair struct {
	PrivateKey  string // OpenSSH private key, PEM encoded
	PublicKey   string // single-line authorized_keys form
	Fingerprint string // SHA256:<base64>
	KeyType     string // canonical name from the recognized set
	KeyBits     int
}

// NormalizeType canonicalizes a caller-supplied key type. Matching is
// case-insensitive; the empty string maps to Ed25519.
func NormalizeType(keyType string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(keyType)) {
	case "":
		return TypeEd25519, nil
	case TypeRSA:
		return TypeRSA, nil
	case TypeECDSA:
		return TypeECDSA, nil
	case TypeEd25519:
		return TypeEd25519, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadKeyType, keyType)
	}
}

// Generate creates a new key pair of the given type. RSA-4096 generation is
// CPU-bound and can take tens of milliseconds; callers on a request path
// should not hold locks across it.
func Generate(keyType string) (*KeyPair, error) {
	canonical, err := NormalizeType(keyType)
	if err != nil {
		return nil, err
	}

	var signer crypto.PrivateKey
	var bits int
	switch canonical {
	case TypeRSA:
		key, err := rsa.GenerateKey(rand.Reader, rsaBits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate rsa key pair: %w", err)
		}
		signer, bits = key, rsaBits
	case TypeECDSA:
		key, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ecdsa key pair: %w", err)
		}
		signer, bits = key, ecdsaBits
	case TypeEd25519:
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
		}
		signer, bits = key, ed25519Bits
	}

	pemBlock, err := ssh.MarshalPrivateKey(signer, "")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(publicOf(signer))
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}

	return &KeyPair{
		PrivateKey:  string(pem.EncodeToMemory(pemBlock)),
		PublicKey:   strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))),
		Fingerprint: ssh.FingerprintSHA256(sshPub),
		KeyType:     canonical,
		KeyBits:     bits,
	}, nil
}

func publicOf(key crypto.PrivateKey) crypto.PublicKey {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey
	case *ecdsa.PrivateKey:
		return &k.PublicKey
	case ed25519.PrivateKey:
		return k.Public()
	default:
		return nil
	}
}
