package utils

import (
	"strings"
	"unicode"
)

// NormalizeEmail lowercases and trims an address so staff logins and customer
// lookups compare equal.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail is a shape check only: one @, a non-empty local part and a
// dotted domain.
func IsValidEmail(email string) bool {
	local, domain, ok := strings.Cut(NormalizeEmail(email), "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return false
	}
	return len(domain) > 2 && strings.Contains(domain, ".") &&
		!strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// NormalizePhone turns a stored mobile number into E.164 for the payment
// processor. National UK numbers (07...) get the +44 prefix. Anything too short
// to dial comes back empty.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if i == 0 && r == '+' {
			b.WriteRune(r)
		} else if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "+"):
	case strings.HasPrefix(digits, "00"):
		digits = "+" + digits[2:]
	case strings.HasPrefix(digits, "0"):
		digits = "+44" + digits[1:]
	case digits != "":
		digits = "+" + digits
	}
	if len(digits) < 8 {
		return ""
	}
	return digits
}
