package validation

import "testing"

func TestValidateDTMF(t *testing.T) {
	tests := []struct {
		name    string
		digits  string
		wantErr bool
	}{
		{"plain digits", "1234567890", false},
		{"letter digits", "1A2B3C4D", false},
		{"star and pound", "*#", false},
		{"pauses", "1w2W3,4", false},
		{"empty", "", true},
		{"lowercase letter digit", "1a2", true},
		{"unknown symbol", "12Z3", true},
		{"whitespace", "1 2", true},
		{"too long", "11111111111111111111111111111111111", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDTMF(tt.digits)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDTMF(%q) error = %v, wantErr %v", tt.digits, err, tt.wantErr)
			}
		})
	}
}

func TestValidateE164(t *testing.T) {
	tests := []struct {
		name    string
		phone   string
		wantErr bool
	}{
		{"valid US", "+14155551234", false},
		{"valid IN", "+919876543210", false},
		{"missing plus", "14155551234", true},
		{"leading zero", "+04155551234", true},
		{"empty", "", true},
		{"letters", "+1415ABC1234", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateE164(tt.phone)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateE164(%q) error = %v, wantErr %v", tt.phone, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeE164(t *testing.T) {
	got, err := NormalizeE164(" +1 (415) 555-1234 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "+14155551234" {
		t.Errorf("NormalizeE164 = %q, want %q", got, "+14155551234")
	}

	if _, err := NormalizeE164("4155551234"); err == nil {
		t.Error("expected error for number without country code")
	}
}
