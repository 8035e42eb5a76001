package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	saltLen = 16
	keyLen  = 32

	// hashPrefix versions the stored hash format: "v1:" + base64(salt|key).
	hashPrefix = "v1:"
)

// CryptoConfig holds the argon2id cost parameters.
type CryptoConfig struct {
	ArgonTime    uint32
	ArgonMemory  uint32
	ArgonThreads uint8
}

// DefaultCryptoConfig returns the default production configuration.
func DefaultCryptoConfig() CryptoConfig {
	return CryptoConfig{
		ArgonTime:    1,
		ArgonMemory:  64 * 1024, // 64 MB
		ArgonThreads: 4,
	}
}

// TestCryptoConfig returns a faster configuration suitable for testing.
func TestCryptoConfig() CryptoConfig {
	return CryptoConfig{
		ArgonTime:    1,
		ArgonMemory:  1024, // 1 MB - faster for tests
		ArgonThreads: 4,
	}
}

// cryptoConfig is the current active configuration. It defaults to production
// settings and can be lowered for tests. Access is protected by
// cryptoConfigMu for thread safety.
var (
	cryptoConfig   = DefaultCryptoConfig()
	cryptoConfigMu sync.RWMutex
)

func getCryptoConfig() CryptoConfig {
	cryptoConfigMu.RLock()
	defer cryptoConfigMu.RUnlock()
	return cryptoConfig
}

func setCryptoConfig(cfg CryptoConfig) {
	cryptoConfigMu.Lock()
	defer cryptoConfigMu.Unlock()
	cryptoConfig = cfg
}

func deriveKey(password string, salt []byte) []byte {
	cfg := getCryptoConfig()
	return argon2.IDKey(
		[]byte(password),
		salt,
		cfg.ArgonTime,
		cfg.ArgonMemory,
		cfg.ArgonThreads,
		keyLen,
	)
}

// HashPassword derives a salted argon2id hash of the password. Equal
// passwords produce different hashes because the salt is random per call.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	key := deriveKey(password, salt)

	raw := make([]byte, 0, saltLen+keyLen)
	raw = append(raw, salt...)
	raw = append(raw, key...)

	return hashPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// VerifyPassword reports whether candidate matches the stored hash.
// A malformed or mis-versioned hash verifies as false; verification failure
// is data, not a fault.
func VerifyPassword(hash, candidate string) bool {
	if !strings.HasPrefix(hash, hashPrefix) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(hash, hashPrefix))
	if err != nil {
		return false
	}
	if len(raw) != saltLen+keyLen {
		return false
	}

	salt := raw[:saltLen]
	want := raw[saltLen:]
	got := deriveKey(candidate, salt)

	return subtle.ConstantTimeCompare(want, got) == 1
}
