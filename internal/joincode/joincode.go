// Package joincode generates the short codes students type to enter a live session.
package joincode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// Alphabet omits 0, 1, I and O so codes can be dictated without ambiguity.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// Length is the number of symbols in a code.
	Length = 6
)

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generate returns a random code of Length symbols from Alphabet.
func Generate() (string, error) {
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize trims and uppercases user input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code (already normalized) has the right length and alphabet.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
