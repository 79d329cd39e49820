package subscription

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// TokenLength is the number of characters in a confirmation token.
const TokenLength = 25

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var alphabetSize = big.NewInt(int64(len(tokenAlphabet)))

// GenerateToken returns a confirmation token of TokenLength characters drawn
// uniformly from [A-Za-z0-9] using a cryptographically secure source.
func GenerateToken() (string, error) {
	buf := make([]byte, TokenLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return string(buf), nil
}
