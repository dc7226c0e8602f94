package redact

import "strings"

// luhnValid checks a candidate credit-card number (spaces/dashes allowed)
// against the Luhn checksum.
func luhnValid(candidate string) bool {
	digits := strings.NewReplacer(" ", "", "-", "").Replace(candidate)
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		n := int(c - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

// ssnFormatValid rejects SSNs whose area number (first three digits) is
// 000, 666, or in the 900-999 advertising/ITIN-reserved range.
func ssnFormatValid(candidate string) bool {
	parts := strings.Split(candidate, "-")
	if len(parts) != 3 || len(parts[0]) != 3 {
		return false
	}
	area := 0
	for _, c := range parts[0] {
		if c < '0' || c > '9' {
			return false
		}
		area = area*10 + int(c-'0')
	}
	if area == 0 || area == 666 || area >= 900 {
		return false
	}
	return true
}
