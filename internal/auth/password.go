package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

var (
	decoyOnce sync.Once
	decoyHash string
)

// burnDecoy spends one bcrypt comparison so unknown emails take as long as
// wrong passwords.
func burnDecoy(password string) {
	decoyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("decoy-password"), bcrypt.DefaultCost)
		if err == nil {
			decoyHash = string(h)
		}
	})
	if decoyHash != "" {
		_ = VerifyPassword(decoyHash, password)
	}
}
