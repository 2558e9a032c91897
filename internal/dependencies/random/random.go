package random

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

// Alphanumeric is the alphabet used for short display suffixes
const Alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Random provides random values that can be mocked for testing
type Random interface {
	// Intn returns a random int in [0, n)
	Intn(n int) int

	// String generates a random string of the given length from the given alphabet
	String(length int, alphabet string) string

	// UUID returns a new random (v4) UUID string
	UUID() string
}

// CryptoRandom implements Random using crypto/rand
type CryptoRandom struct{}

// New creates a new CryptoRandom
func New() *CryptoRandom {
	return &CryptoRandom{}
}

// Intn returns a cryptographically random int in [0, n)
func (r *CryptoRandom) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	result, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(result.Int64())
}

// String generates a random string of the given length from the given alphabet
func (r *CryptoRandom) String(length int, alphabet string) string {
	if length <= 0 || len(alphabet) == 0 {
		return ""
	}
	result := make([]byte, length)
	for i := range result {
		result[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(result)
}

// UUID returns a new random UUID string
func (r *CryptoRandom) UUID() string {
	return uuid.NewString()
}
