package utils

import (
	"regexp"
	"strings"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// MaskPhoneNumber masks a phone number for logging.
// Example: +14155551234 -> +1415•••••1234
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	phone = strings.TrimSpace(phone)

	re := regexp.MustCompile(`^(\+)(\d{1,3})(\d{3})(\d+)$`)
	matches := re.FindStringSubmatch(phone)

	if len(matches) == 5 {
		countryCode := matches[2]
		first3 := matches[3]
		lastDigits := matches[4]

		if len(lastDigits) >= 4 {
			last4 := lastDigits[len(lastDigits)-4:]
			masked := strings.Repeat("•", len(lastDigits)-4)
			return "+" + countryCode + first3 + masked + last4
		}
	}

	if len(phone) > 4 {
		masked := strings.Repeat("•", len(phone)-4)
		return masked + phone[len(phone)-4:]
	}

	return strings.Repeat("•", len(phone))
}

// ValidateE164 validates E.164 phone number format
func ValidateE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}
