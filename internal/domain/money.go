package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount in minor units (pence).
type Money int64

var ErrInvalidMoney = errors.New("invalid amount")

// ParseMoney reads "220", "220.5", "220.50" or "1,000.50" (optionally prefixed
// with £) without going through floats. Anything but digits, one point and
// thousands commas is rejected.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "£"))
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, ErrInvalidMoney
	}
	whole, ok := ungroup(whole)
	if !ok || !digits(frac) || (whole == "" && !hasFrac) {
		return 0, ErrInvalidMoney
	}
	if whole == "" {
		whole = "0"
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w > (1<<62)/100 {
		return 0, ErrInvalidMoney
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrInvalidMoney
	}
	return Money(w*100 + f), nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ungroup strips thousands separators, which must sit every three digits.
func ungroup(s string) (string, bool) {
	if !strings.Contains(s, ",") {
		return s, digits(s)
	}
	groups := strings.Split(s, ",")
	if n := len(groups[0]); n == 0 || n > 3 {
		return "", false
	}
	for i, g := range groups {
		if !digits(g) || (i > 0 && len(g) != 3) {
			return "", false
		}
	}
	return strings.Join(groups, ""), true
}

// String renders the plain decimal form, e.g. "220.00".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Format renders the amount with a currency symbol where we know one.
func (m Money) Format(currency string) string {
	switch strings.ToLower(currency) {
	case "gbp", "":
		return "£" + m.String()
	case "eur":
		return "€" + m.String()
	default:
		return m.String() + " " + strings.ToUpper(currency)
	}
}
