package auth

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is enforced before hashing.
const MinPasswordLength = 6

// HashPassword hashes a plaintext password with configured cost.
func HashPassword(password string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword verifies a password against its hashed value.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

// ValidCredentials reports whether the email and password pass basic shape
// checks. Full address verification is left to the mail round-trip.
func ValidCredentials(email, password string) bool {
	email = strings.TrimSpace(email)
	if len(password) < MinPasswordLength {
		return false
	}
	at := strings.Index(email, "@")
	return at > 0 && strings.Contains(email[at:], ".")
}
