// Package crypto provides the symmetric primitives for the session
// pipeline: AES-256-GCM for the event log, SHA-256 hashing for artifacts
// and blobs, and HKDF subkey derivation for the local archive.
//
// Decryption is fail-closed: a wrong key or a single flipped bit in the
// ciphertext or nonce yields an authentication error, never partial
// plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes (96 bits).
	NonceSize = 12
)

var (
	ErrInvalidKeySize   = errors.New("crypto: invalid key size")
	ErrInvalidNonceSize = errors.New("crypto: invalid nonce size")
)

// EncryptionKey holds a 256-bit symmetric key. Keys are generated fresh per
// session or derived per use; they are never written to disk by this package.
type EncryptionKey struct {
	key [KeySize]byte
}

// GenerateKey returns a new random key.
func GenerateKey() (*EncryptionKey, error) {
	k := &EncryptionKey{}
	if _, err := rand.Read(k.key[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return k, nil
}

// KeyFromBytes copies b into a key. b must be exactly KeySize bytes.
func KeyFromBytes(b []byte) (*EncryptionKey, error) {
	if len(b) != KeySize {
		return nil, ErrInvalidKeySize
	}
	k := &EncryptionKey{}
	copy(k.key[:], b)
	return k, nil
}

// Wipe zeroes the key material in place. The key is unusable afterwards.
func (k *EncryptionKey) Wipe() {
	for i := range k.key {
		k.key[i] = 0
	}
}

// EncryptedBlob is ciphertext plus the nonce it was sealed with. Its
// Marshal form is what gets hashed into a proof, so the field set and
// ordering are fixed.
type EncryptedBlob struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// Marshal returns the canonical serialized blob representation.
func (b *EncryptedBlob) Marshal() ([]byte, error) {
	out, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal blob: %w", err)
	}
	return out, nil
}

// Encrypt seals plaintext under key with AES-256-GCM and a fresh random
// 96-bit nonce. Nonces are never reused across calls.
func Encrypt(plaintext []byte, key *EncryptionKey) (*EncryptedBlob, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	return &EncryptedBlob{
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
	}, nil
}

// Decrypt opens a blob. Any tampering with ciphertext or nonce, or a wrong
// key, fails authentication.
func Decrypt(blob *EncryptedBlob, key *EncryptionKey) ([]byte, error) {
	if len(blob.Nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt: %w", err)
	}
	return plaintext, nil
}

func newAEAD(key *EncryptionKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return aead, nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256FileHex returns the lowercase hex SHA-256 digest of the file at
// path, streaming in bounded chunks so arbitrarily large artifacts never
// load fully into memory.
func SHA256FileHex(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("crypto: open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("crypto: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DeriveSubkey derives a purpose-bound encryption key from master material
// via HKDF-SHA256. The same master and info always derive the same key, so
// callers must scope info strings per purpose (and per session where keys
// must not be shared).
func DeriveSubkey(master []byte, info string) (*EncryptionKey, error) {
	b, err := deriveBytes(master, info, KeySize)
	if err != nil {
		return nil, err
	}
	return KeyFromBytes(b)
}

// DeriveMACKey derives 32 bytes of HMAC key material from master via
// HKDF-SHA256.
func DeriveMACKey(master []byte, info string) ([]byte, error) {
	return deriveBytes(master, info, 32)
}

func deriveBytes(master []byte, info string, n int) ([]byte, error) {
	if len(master) == 0 {
		return nil, errors.New("crypto: empty master key material")
	}
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return out, nil
}
