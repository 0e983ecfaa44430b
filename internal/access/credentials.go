package access

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialValidator checks a username/secret pair.
type CredentialValidator interface {
	ValidateCredentials(username, secret string) bool
}

// CredentialFunc adapts a function to CredentialValidator.
type CredentialFunc func(username, secret string) bool

func (f CredentialFunc) ValidateCredentials(username, secret string) bool {
	return f(username, secret)
}

// StaticCredentials validates against a fixed set of bcrypt hashes.
type StaticCredentials struct {
	hashes map[string][]byte
}

// NewStaticCredentials takes username -> bcrypt hash.
func NewStaticCredentials(hashes map[string]string) *StaticCredentials {
	out := make(map[string][]byte, len(hashes))
	for user, hash := range hashes {
		out[normalizeUser(user)] = []byte(hash)
	}
	return &StaticCredentials{hashes: out}
}

func (s *StaticCredentials) ValidateCredentials(username, secret string) bool {
	hash, ok := s.hashes[normalizeUser(username)]
	if !ok || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}

// HashSecret returns the bcrypt hash stored in configuration for a secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}
