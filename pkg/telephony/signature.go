package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// VerifySignature verifies the provider's webhook HMAC signature.
// The signature is HMAC-SHA256 over the sorted form values.
// If secret is empty, verification is skipped (for development/testing).
func VerifySignature(secret string, formValues url.Values, signature string) error {
	if secret == "" {
		return nil
	}

	if signature == "" {
		return fmt.Errorf("signature header missing")
	}

	var keys []string
	for k := range formValues {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		for _, v := range formValues[k] {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}

	signatureString := strings.Join(parts, "&")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureString))
	expectedSignature := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expectedSignature), []byte(signature)) {
		return fmt.Errorf("invalid signature")
	}

	return nil
}
