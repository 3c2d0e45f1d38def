package share

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is deliberately above the library default; share passwords are
// short, so the work factor carries the brute-force resistance.
const bcryptCost = 12

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// passwordAlphabet excludes visually ambiguous characters (0/O, 1/l/I, etc.)
// since generated passwords are read aloud or retyped by users in the room.
const passwordAlphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKMNPQRSTUVWXYZ23456789"

// HashPassword hashes a generated share password for storage.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword reports whether plain matches the stored hash. bcrypt's own
// verify performs the constant-time comparison.
func ComparePassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// randomString produces a cryptographically secure string of length n drawn
// from the given alphabet.
func randomString(alphabet string, n int) (string, error) {
	result := make([]byte, n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = alphabet[idx.Int64()]
	}
	return string(result), nil
}
