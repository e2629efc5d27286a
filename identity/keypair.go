// Package identity provides the local signing identity used for the chat
// auth handshake: an Ed25519 keypair persisted to a keyfile, with an address
// derived from the public key.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoKey is returned when signing is attempted without a loaded keypair.
var ErrNoKey = errors.New("identity: no keypair loaded")

// Keypair is an Ed25519 signing identity. It satisfies the chat session's
// Identity interface.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Generate creates a fresh keypair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keypair{priv: priv, pub: pub}, nil
}

// Load reads a keypair from a keyfile containing the base64-encoded seed.
func Load(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode keyfile %s: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keyfile %s: seed is %d bytes, want %d", path, len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Save writes the base64-encoded seed to path, creating parent directories.
func (k *Keypair) Save(path string) error {
	if k == nil || k.priv == nil {
		return ErrNoKey
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(k.priv.Seed())
	return os.WriteFile(path, []byte(encoded), 0600)
}

// Address derives the identity address from the public key.
func (k *Keypair) Address() string {
	if k == nil || k.pub == nil {
		return ""
	}
	return "0x" + hex.EncodeToString(k.pub)
}

// Sign produces a base64-encoded Ed25519 signature over the message.
func (k *Keypair) Sign(_ context.Context, message string) (string, error) {
	if k == nil || k.priv == nil {
		return "", ErrNoKey
	}
	sig := ed25519.Sign(k.priv, []byte(message))
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Ready reports host readiness. A local keypair is always ready.
func (k *Keypair) Ready() bool {
	return true
}

// Authenticated reports whether a signing key is loaded.
func (k *Keypair) Authenticated() bool {
	return k != nil && k.priv != nil
}

// Verify checks a base64 signature produced by Sign against a public key.
// Used by tests and tooling; the server does the authoritative check.
func Verify(pub ed25519.PublicKey, message, signatureB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(message), sig)
}

// PublicKey exposes the raw public key.
func (k *Keypair) PublicKey() ed25519.PublicKey {
	return k.pub
}
