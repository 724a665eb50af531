package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	e164Regex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

	// The keypad alphabet plus the pause symbols: w/W is a long pause, ',' a
	// short one. Operator-supplied strings are validated strictly here;
	// tone synthesis is deliberately lenient with whatever it is handed.
	dtmfRegex = regexp.MustCompile(`^[0-9A-DwW*#,]+$`)
)

const maxDTMFLength = 32

// ValidateDTMF rejects malformed operator-supplied digit strings before any
// side effect occurs.
func ValidateDTMF(digits string) error {
	if digits == "" {
		return fmt.Errorf("digits are required")
	}
	if len(digits) > maxDTMFLength {
		return fmt.Errorf("digit string exceeds %d characters", maxDTMFLength)
	}

	if !dtmfRegex.MatchString(digits) {
		return fmt.Errorf("digits may only contain 0-9, A-D, *, #, w and ,")
	}
	return nil
}

// ValidateE164 validates E.164 phone number format.
func ValidateE164(phone string) error {
	if phone == "" {
		return fmt.Errorf("phone number is required")
	}

	phone = strings.TrimSpace(phone)

	if !e164Regex.MatchString(phone) {
		return fmt.Errorf("phone number must be in E.164 format (e.g., +14155551234)")
	}

	return nil
}

// NormalizeE164 strips common separators and validates the result.
func NormalizeE164(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	for _, sep := range []string{" ", "-", "(", ")"} {
		phone = strings.ReplaceAll(phone, sep, "")
	}

	if !strings.HasPrefix(phone, "+") {
		return "", fmt.Errorf("phone number must include a country code: %s", phone)
	}

	if err := ValidateE164(phone); err != nil {
		return "", err
	}

	return phone, nil
}
