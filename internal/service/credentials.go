package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/pulsemetrics/pulse/internal/config"
)

const ipHashLength = 16

// Credentials mints and verifies API keys and pseudonymizes client IPs.
// Both digests are HMAC-SHA256 keyed by the server secret, so a leaked
// database alone cannot be used to brute-force keys or recover addresses.
type Credentials struct {
	secret       []byte
	prefix       string
	length       int
	lookupLength int
}

// NewCredentials returns Credentials keyed by secret and shaped by cfg.
func NewCredentials(secret string, cfg config.APIKeyConfig) *Credentials {
	return &Credentials{
		secret:       []byte(secret),
		prefix:       cfg.Prefix,
		length:       cfg.Length,
		lookupLength: cfg.LookupPrefixLength,
	}
}

// HashAPIKey returns the hex HMAC-SHA256 of plaintext.
func (c *Credentials) HashAPIKey(plaintext string) string {
	return c.mac(plaintext)
}

// GenerateAPIKey returns a new random key, its lookup prefix and its hash.
func (c *Credentials) GenerateAPIKey() (plaintext, prefix, hash string, err error) {
	body, err := randomURLSafe(c.length)
	if err != nil {
		return "", "", "", fmt.Errorf("generate api key: %w", err)
	}
	plaintext = c.prefix + body
	return plaintext, c.LookupPrefix(plaintext), c.HashAPIKey(plaintext), nil
}

// LookupPrefix returns the stored prefix used to find candidate keys. Short
// input is returned whole.
func (c *Credentials) LookupPrefix(plaintext string) string {
	if len(plaintext) < c.lookupLength {
		return plaintext
	}
	return plaintext[:c.lookupLength]
}

// CompareAPIKey reports whether plaintext hashes to hash, in constant time.
func (c *Credentials) CompareAPIKey(plaintext, hash string) bool {
	return hmac.Equal([]byte(c.HashAPIKey(plaintext)), []byte(hash))
}

// HashIP returns the first 16 hex characters of the keyed digest of ip.
func (c *Credentials) HashIP(ip string) string {
	return c.mac(ip)[:ipHashLength]
}

func (c *Credentials) mac(s string) string {
	m := hmac.New(sha256.New, c.secret)
	m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// randomURLSafe returns n characters from the base64url alphabet.
func randomURLSafe(n int) (string, error) {
	b := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}

// randomHex returns n random hex characters.
func randomHex(n int) (string, error) {
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b)[:n], nil
}
