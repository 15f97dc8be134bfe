package provider

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
)

const (
	minPhoneDigits = 8
	maxPhoneDigits = 15

	whatsAppPrefix = "whatsapp:"
)

// CollapseWhitespace joins all whitespace runs, newlines included, into single spaces.
func CollapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// NormalizeE164 returns the address as +<digits>, accepting spaces, dashes, parentheses
// and a whatsapp: routing prefix in the input.
func NormalizeE164(address string) (string, error) {
	digits, err := phoneDigits(address)
	if err != nil {
		return "", err
	}
	return "+" + digits, nil
}

// NormalizeDigits returns the address as bare digits without a leading +.
func NormalizeDigits(address string) (string, error) {
	return phoneDigits(address)
}

// WhatsAppAddress returns the address with the whatsapp: routing prefix.
func WhatsAppAddress(address string) (string, error) {
	e164, err := NormalizeE164(address)
	if err != nil {
		return "", err
	}
	return whatsAppPrefix + e164, nil
}

func phoneDigits(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	trimmed = strings.TrimPrefix(strings.ToLower(trimmed), whatsAppPrefix)
	if trimmed == "" {
		return "", fmt.Errorf("%w: recipient address is required", domain.ErrValidation)
	}

	var b strings.Builder
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", fmt.Errorf("%w: invalid character %q in recipient address", domain.ErrValidation, r)
		}
	}

	digits := b.String()
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", fmt.Errorf("%w: recipient address must have %d-%d digits, got %d",
			domain.ErrValidation, minPhoneDigits, maxPhoneDigits, len(digits))
	}
	return digits, nil
}
