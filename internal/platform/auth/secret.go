package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxSecretLen is the longest secret bcrypt accepts, in bytes.
const MaxSecretLen = 72

// HashSecret bcrypt-hashes a PIN or password.
func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}

// CheckSecret reports whether secret matches hash. An empty hash never
// matches.
func CheckSecret(hash, secret string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
