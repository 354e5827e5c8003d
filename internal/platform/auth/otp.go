package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// otpHashCost is lowered by tests.
var otpHashCost = 12

// GenerateOTP returns a uniformly random numeric code of the given length.
func GenerateOTP(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func HashOTP(code string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(code), otpHashCost)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}
	return string(h), nil
}

func VerifyOTP(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

var (
	emailMask = regexp.MustCompile(`^(.{2}).*(@.*)$`)
	phoneMask = regexp.MustCompile(`^(.{2}).*(.{4})$`)
)

// MaskDestination hides most of an email local part or phone number.
func MaskDestination(dest string) string {
	if strings.Contains(dest, "@") {
		return emailMask.ReplaceAllString(dest, "$1***$2")
	}
	return phoneMask.ReplaceAllString(dest, "$1***$2")
}
