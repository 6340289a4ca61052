package auth

import (
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

const (
	AlgoBcrypt   = "bcrypt"
	AlgoArgon2id = "argon2id"

	argon2idPrefix = "$argon2id$"
)

// PasswordHasher produces salted one-way hashes. New hashes use the
// configured algorithm; Verify accepts hashes of either algorithm so stored
// credentials survive a configuration change.
type PasswordHasher struct {
	algo       string
	bcryptCost int
	params     *argon2id.Params
}

func NewPasswordHasher(algo string, bcryptCost int) *PasswordHasher {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = 10
	}
	if algo != AlgoArgon2id {
		algo = AlgoBcrypt
	}
	return &PasswordHasher{
		algo:       algo,
		bcryptCost: bcryptCost,
		params:     argon2id.DefaultParams,
	}
}

func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if h.algo == AlgoArgon2id {
		hash, err := argon2id.CreateHash(plaintext, h.params)
		if err != nil {
			return "", fmt.Errorf("argon2id hash: %w", err)
		}
		return hash, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches hash. It never returns an error;
// an unparseable hash simply does not match.
func (h *PasswordHasher) Verify(plaintext, hash string) bool {
	if strings.HasPrefix(hash, argon2idPrefix) {
		ok, err := argon2id.ComparePasswordAndHash(plaintext, hash)
		return err == nil && ok
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
