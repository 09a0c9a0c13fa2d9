// Package signer handles the per-session Ed25519 identity: key generation,
// signing of canonical proof bytes, and the encodings used to carry keys
// and signatures inside a proof.
//
// Sessions generate their own keypair at construction; no private key is
// ever loaded from disk. Public keys can be loaded from file so a verifier
// can pin a trusted artist key.
package signer

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// Errors
var (
	ErrInvalidSeed      = errors.New("signer: seed must be 32 bytes")
	ErrInvalidPublicKey = errors.New("signer: invalid public key encoding")
	ErrInvalidSignature = errors.New("signer: invalid signature encoding")
	ErrUnsupportedKey   = errors.New("signer: unsupported key type (expected Ed25519)")
)

// Generate creates a fresh Ed25519 keypair from the system CSPRNG.
func Generate() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("signer: generate key: %w", err)
	}
	return pub, priv, nil
}

// FromSeed derives a private key from a 32-byte seed.
func FromSeed(seed []byte) (ed25519.PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidSeed
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Sign generates a 64-byte Ed25519 signature over canonical proof bytes.
func Sign(privKey ed25519.PrivateKey, canonical []byte) []byte {
	return ed25519.Sign(privKey, canonical)
}

// Verify checks an Ed25519 signature. A wrong-length or non-matching
// signature is simply false; malformed encodings are handled by the
// Decode helpers before this point.
func Verify(pubKey ed25519.PublicKey, canonical, signature []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pubKey, canonical, signature)
}

// PublicKeyOf extracts the public key from a private key.
func PublicKeyOf(privKey ed25519.PrivateKey) ed25519.PublicKey {
	return privKey.Public().(ed25519.PublicKey)
}

// EncodePublicKey returns the base64 form embedded in proofs.
func EncodePublicKey(pubKey ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pubKey)
}

// DecodePublicKey parses the base64 public key form. Malformed base64 or a
// wrong-size key is an encoding error, distinct from signature mismatch.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// EncodeSignature returns the base64 signature form embedded in proofs.
func EncodeSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

// DecodeSignature parses the base64 signature form.
func DecodeSignature(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidSignature, len(raw))
	}
	return raw, nil
}

// Wipe zeroes private key material in place.
func Wipe(privKey ed25519.PrivateKey) {
	for i := range privKey {
		privKey[i] = 0
	}
}

// LoadPublicKey reads an Ed25519 public key from file for trusted-key
// pinning. Supports raw 32-byte keys, OpenSSH format (ssh-ed25519 ...),
// and the base64 proof encoding.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	// Try raw public key (32 bytes)
	if len(keyData) == ed25519.PublicKeySize {
		return ed25519.PublicKey(keyData), nil
	}

	// Try OpenSSH format
	if pubKey, _, _, _, err := ssh.ParseAuthorizedKey(keyData); err == nil {
		cryptoPubKey, ok := pubKey.(ssh.CryptoPublicKey)
		if !ok {
			return nil, ErrUnsupportedKey
		}
		edKey, ok := cryptoPubKey.CryptoPublicKey().(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, cryptoPubKey.CryptoPublicKey())
		}
		return edKey, nil
	}

	// Fall back to the base64 proof encoding, tolerating trailing newline
	return DecodePublicKey(string(bytes.TrimSpace(keyData)))
}
