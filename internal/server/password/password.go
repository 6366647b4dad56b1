// Package password wraps bcrypt hashing and verification for account
// credentials. The cost is fixed at a conservative default; the encoded
// hash embeds algorithm, cost, and salt, so verification needs no extra
// parameters.
package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor applied to every new hash.
const Cost = 10

// Hash derives a salted bcrypt hash from plaintext. An error here means
// the hashing subsystem itself failed and is not user-facing.
func Hash(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), Cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(b), nil
}

// Verify reports whether plaintext matches the stored hash. Malformed
// stored hashes count as a mismatch, never an error.
func Verify(plaintext, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plaintext)) == nil
}
