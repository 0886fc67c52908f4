package room

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	// CodeAlphabet omits characters that are easy to confuse (0/O, 1/I)
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 6
)

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// GenerateRoomCode draws CodeLength characters uniformly from CodeAlphabet.
// Codes are not guaranteed to be unique.
func GenerateRoomCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	code := make([]byte, CodeLength)
	for i, b := range buf {
		// the alphabet has 32 symbols so the low five bits are uniform
		code[i] = CodeAlphabet[b&31]
	}
	return string(code), nil
}

// ValidateRoomCode reports whether code is six uppercase letters or digits
func ValidateRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

// FormatRoomCode uppercases code and strips all whitespace
func FormatRoomCode(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, code)
}

var roomIDSuffixMax = new(big.Int).Exp(big.NewInt(36), big.NewInt(9), nil)

// newRoomID returns an opaque id made of the creation time and a random
// base36 suffix.
func newRoomID(now time.Time) (string, error) {
	n, err := rand.Int(rand.Reader, roomIDSuffixMax)
	if err != nil {
		return "", fmt.Errorf("failed to generate room id: %w", err)
	}
	suffix := n.Text(36)
	if len(suffix) < 9 {
		suffix = strings.Repeat("0", 9-len(suffix)) + suffix
	}
	return "room_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix, nil
}
