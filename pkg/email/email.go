// Package email provides email address helpers shared by the family
// registry and the reconciliation engine.
package email

import (
	"strings"
	"unicode"
)

// Normalize lowercases and trims an address. The result is the uniqueness
// key for family network members: "Sarah@X.com" and " sarah@x.com " refer to
// the same person.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// DeriveNameFromEmail guesses a display name for invitees who have not
// registered yet, so their member entry is not blank in the UI.
func DeriveNameFromEmail(address string) (string, string) {
	localPart := address
	if at := strings.IndexByte(address, '@'); at > 0 {
		localPart = address[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
