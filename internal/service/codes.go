package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const (
	codeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 7
)

var (
	codePattern = regexp.MustCompile(`^[A-Za-z0-9]{6,8}$`)

	// First path segments the router owns; never treated as codes.
	reservedCodes = map[string]bool{
		"api":     true,
		"healthz": true,
		"code":    true,
	}
)

// IsValidCode reports whether code has the short-code shape
func IsValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// IsReservedCode reports whether code collides with a fixed route
func IsReservedCode(code string) bool {
	return reservedCodes[code]
}

// createCode draws codeLength characters uniformly from codeAlphabet
func createCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, codeLength)

	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		code[i] = codeAlphabet[n.Int64()]
	}

	return string(code), nil
}
