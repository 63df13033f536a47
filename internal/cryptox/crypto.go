// Package cryptox issues bearer credentials and computes the one-way
// digests under which they are stored and looked up.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// TokenBytes is the entropy of an issued credential.
const TokenBytes = 32

// DigestToken returns hex(sha256(token + pepper)). The pepper is a
// deployment secret; an empty pepper is allowed.
func DigestToken(token, pepper string) string {
	sum := sha256.Sum256([]byte(token + pepper))
	return hex.EncodeToString(sum[:])
}

// MakeRandHexString returns size random bytes, hex encoded, so the result
// is 2*size characters long.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewToken mints a fresh bearer credential.
func NewToken() (string, error) {
	return MakeRandHexString(TokenBytes)
}

// EqualDigests compares two digests in constant time.
func EqualDigests(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
