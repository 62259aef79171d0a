package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// KeyPrefixLength is the number of leading characters stored in
	// clear for key identification.
	KeyPrefixLength = 8
	// keyRandomBytes is the entropy behind each minted key.
	keyRandomBytes = 32
	// KeyPrefix marks keys minted by this gateway.
	KeyPrefix = "omen_"
)

// MintKey creates a new random API key. It returns the full key, shown
// to the caller exactly once, and the hash that gets stored.
func MintKey() (fullKey, hash string, err error) {
	random := make([]byte, keyRandomBytes)
	if _, err := rand.Read(random); err != nil {
		return "", "", fmt.Errorf("generate random bytes: %w", err)
	}

	fullKey = KeyPrefix + base64.RawURLEncoding.EncodeToString(random)
	return fullKey, HashKey(fullKey), nil
}

// HashKey returns the SHA-256 hash of an API key, hex encoded.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// VerifyKey reports whether key matches hash, in constant time.
func VerifyKey(key, hash string) bool {
	keyHash := HashKey(key)
	return subtle.ConstantTimeCompare([]byte(keyHash), []byte(hash)) == 1
}

// ExtractKeyPrefix returns the leading characters of a key for
// identification in listings and logs.
func ExtractKeyPrefix(key string) string {
	if len(key) <= KeyPrefixLength {
		return key
	}
	return key[:KeyPrefixLength]
}

// MaskKey renders a key safe for logs, keeping just enough to identify.
func MaskKey(key string) string {
	if len(key) <= 12 {
		return "***"
	}
	return key[:KeyPrefixLength] + "..." + key[len(key)-4:]
}
