// Package crypto implements the primitives shared by the transport and
// record layers: AES-256-GCM payload sealing, elliptic-curve key wrapping
// for transmission keys, and ECDSA request signatures.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the length in bytes of every symmetric key in the system
	// (transmission keys, the application key, folder and record keys).
	KeySize = 32

	// NonceSize is the GCM nonce length prepended to every ciphertext.
	NonceSize = 12

	// publicKeyLen is the length of an uncompressed P-256 point.
	publicKeyLen = 65
)

// ErrAuthenticationFailed is returned whenever an AEAD tag check fails.
// Corruption and tampering are deliberately indistinguishable.
var ErrAuthenticationFailed = errors.New("authentication failed")

// eciesInfo is the HKDF info string binding derived keys to this protocol.
var eciesInfo = []byte("transmission key wrap v1")

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// GenerateKey returns a fresh 256-bit symmetric key.
func GenerateKey() ([]byte, error) {
	return RandomBytes(KeySize)
}

// newGCM builds an AES-256-GCM AEAD from a raw 32-byte key.
func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return aead, nil
}

// Encrypt seals plaintext under key with AES-256-GCM. The returned blob is
// nonce || ciphertext || tag, with a fresh random nonce per call.
func Encrypt(plain, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, err := RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

// Decrypt opens a blob produced by Encrypt. Any tag mismatch, truncation
// or malformed input yields ErrAuthenticationFailed without detail.
func Decrypt(blob, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrAuthenticationFailed
	}
	nonce, ct := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plain, nil
}

// GenerateKeyPair returns a new P-256 key pair used both for request
// signatures and for unwrapping material addressed to this device.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return priv, nil
}

// PublicKeyBytes serializes a public key as an uncompressed P-256 point.
func PublicKeyBytes(pub *ecdsa.PublicKey) ([]byte, error) {
	e, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("convert public key: %w", err)
	}
	return e.Bytes(), nil
}

// ParsePublicKey parses an uncompressed P-256 point.
func ParsePublicKey(raw []byte) (*ecdh.PublicKey, error) {
	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

// ParseSigningKey parses an uncompressed P-256 point into an ECDSA public
// key for signature verification. The point is validated on the curve.
func ParseSigningKey(raw []byte) (*ecdsa.PublicKey, error) {
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(raw[1:33]),
		Y:     new(big.Int).SetBytes(raw[33:]),
	}, nil
}

// ExportPrivateKey serializes a private key as SEC1 DER bytes, the form
// persisted (base64) in the configuration store.
func ExportPrivateKey(priv *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("export private key: %w", err)
	}
	return der, nil
}

// ImportPrivateKey parses SEC1 DER bytes back into a private key.
func ImportPrivateKey(der []byte) (*ecdsa.PrivateKey, error) {
	priv, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("import private key: %w", err)
	}
	return priv, nil
}

// PublicEncrypt wraps data for the holder of the private half of pub.
// Scheme: ephemeral P-256 key agreement, HKDF-SHA256 key derivation,
// AES-256-GCM. Output is ephemeralPublic(65) || nonce || ciphertext || tag.
func PublicEncrypt(data []byte, pub *ecdh.PublicKey) ([]byte, error) {
	eph, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	shared, err := eph.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}
	key, err := deriveKey(shared)
	if err != nil {
		return nil, err
	}
	sealed, err := Encrypt(data, key)
	if err != nil {
		return nil, err
	}
	return append(eph.PublicKey().Bytes(), sealed...), nil
}

// PublicDecrypt unwraps a blob produced by PublicEncrypt using the
// recipient's private key.
func PublicDecrypt(blob []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	if len(blob) < publicKeyLen {
		return nil, ErrAuthenticationFailed
	}
	ephPub, err := ecdh.P256().NewPublicKey(blob[:publicKeyLen])
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	ecdhPriv, err := priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("convert private key: %w", err)
	}
	shared, err := ecdhPriv.ECDH(ephPub)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}
	key, err := deriveKey(shared)
	if err != nil {
		return nil, err
	}
	return Decrypt(blob[publicKeyLen:], key)
}

// deriveKey expands an ECDH shared secret into an AES-256 key.
func deriveKey(shared []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, eciesInfo), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Sign produces an ASN.1 ECDSA signature over SHA-256(data).
func Sign(data []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature over SHA-256(data).
func Verify(data, sig []byte, pub *ecdsa.PublicKey) bool {
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// Base64 helpers. All wire and storage encodings use unpadded URL-safe
// base64 so values survive JSON, env vars and shell quoting unchanged.

// EncodeBase64 encodes bytes as unpadded URL-safe base64.
func EncodeBase64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64 decodes unpadded URL-safe base64, tolerating padded input.
func DecodeBase64(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return b, nil
}
