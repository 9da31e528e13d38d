package auth

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost = 10

	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 6
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

// dummyHash is compared against when the username is unknown so that login
// takes the same time whether or not the account exists.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("wiredm-dummy-password"), bcryptCost)

// normalizeUsername trims the username and checks its length in characters.
func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return "", fmt.Errorf("%w: must be %d to %d characters", ErrInvalidUsername, minUsernameLen, maxUsernameLen)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return "", fmt.Errorf("%w: must not contain whitespace", ErrInvalidUsername)
	}
	return username, nil
}

func checkPassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLen {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidPassword, minPasswordLen)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: must be at most %d bytes", ErrInvalidPassword, maxPasswordBytes)
	}
	return nil
}

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword reports whether password matches the bcrypt hash.
// An empty hash is compared against a dummy so the cost is paid either way.
func ComparePassword(hashedPassword, password string) bool {
	hash := []byte(hashedPassword)
	if len(hash) == 0 {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
