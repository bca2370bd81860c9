package utils

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}
func CheckPassword(pw, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(pw)) == nil
}

// NewID returns a random uuid v4 string.
func NewID() string { return uuid.NewString() }

// ShortID is NewID without dashes, cut to n characters.
func ShortID(n int) string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > 0 && n < len(s) {
		return s[:n]
	}
	return s
}
