package utils

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

// SessionCodeLength is the length of the codes peers exchange to find each other
const SessionCodeLength = 8

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

func GenerateCode(length int) (string, error) {
	result := make([]byte, length)
	max := big.NewInt(int64(len(charset)))

	for i := range result {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		result[i] = charset[num.Int64()]
	}

	return string(result), nil
}

// IsValidCode validates that a code is exactly SessionCodeLength alphanumeric characters
func IsValidCode(code string) bool {
	return len(code) == SessionCodeLength && codePattern.MatchString(code)
}

// NormalizeCode trims what users tend to paste around a code
func NormalizeCode(input string) string {
	return strings.Trim(strings.TrimSpace(input), `"'`)
}
