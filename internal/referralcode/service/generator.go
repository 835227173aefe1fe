package service

import (
	"crypto/rand"
	"strings"
)

// codeAlphabet omits I, O, 0 and 1 so codes survive being read aloud. Its
// length divides 256, so byte-modulo selection is unbiased.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode returns PREFIX-XXXXXXXX with length random characters.
func GenerateCode(prefix string, length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(prefix) + 1 + length)
	b.WriteString(strings.ToUpper(strings.TrimSpace(prefix)))
	b.WriteByte('-')
	for _, v := range buf {
		b.WriteByte(codeAlphabet[int(v)%len(codeAlphabet)])
	}
	return b.String(), nil
}
