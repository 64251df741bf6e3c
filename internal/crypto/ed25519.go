package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Request signing parameters shared by the server, the client and cmd/sign.
const (
	MinNonceLength  = 24
	SignatureWindow = 30 * time.Second
)

var (
	ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignatureExpired = errors.New("signature timestamp expired")
	ErrInvalidNonce     = errors.New("invalid or reused nonce")
)

// ValidatePublicKey checks if a base64-encoded string is a valid Ed25519 public key.
func ValidatePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}

	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}

	return ed25519.PublicKey(decoded), nil
}

// ParsePrivateKey decodes a base64 Ed25519 private key.
func ParsePrivateKey(privkeyB64 string) (ed25519.PrivateKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(privkeyB64)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key: must be %d bytes, got %d", ed25519.PrivateKeySize, len(decoded))
	}
	return ed25519.PrivateKey(decoded), nil
}

// VerifySignature verifies a signed message.
func VerifySignature(pubkey ed25519.PublicKey, signedData []byte, signatureB64 string) error {
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 encoding", ErrInvalidSignature)
	}

	if !ed25519.Verify(pubkey, signedData, signature) {
		return ErrInvalidSignature
	}

	return nil
}

// ValidateTimestamp checks that a millisecond timestamp lies within the
// signature window around now. Future timestamps are rejected as well.
func ValidateTimestamp(timestampMs int64, now time.Time) error {
	age := now.Sub(time.UnixMilli(timestampMs))
	if age > SignatureWindow || age < -SignatureWindow/6 {
		return ErrSignatureExpired
	}
	return nil
}

// BodyHash returns the hex SHA-256 of a request body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SignaturePayload creates the canonical data to sign. The request target is
// the path plus raw query, as in the HTTP request line.
// Format: METHOD|target|sha256hex(body)|nonce|timestamp
func SignaturePayload(method, target, bodyHash, nonce string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%d", strings.ToUpper(method), target, bodyHash, nonce, timestamp))
}

// Sign produces the base64 signature header value for a request.
func Sign(priv ed25519.PrivateKey, method, target string, body []byte, nonce string, timestamp int64) string {
	sig := ed25519.Sign(priv, SignaturePayload(method, target, BodyHash(body), nonce, timestamp))
	return base64.StdEncoding.EncodeToString(sig)
}
