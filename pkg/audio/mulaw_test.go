package audio

import "testing"

func TestMuLawRoundTrip(t *testing.T) {
	// μ-law is lossy on arbitrary samples, but re-encoding a decoded sample
	// must land on a byte that decodes to the same value. Exact byte equality
	// holds everywhere except negative zero (0x7F), which re-encodes as the
	// canonical zero byte 0xFF.
	for b := 0; b < 256; b++ {
		orig := MuLawDecodeSample(byte(b))
		reencoded := MuLawEncodeSample(orig)
		got := MuLawDecodeSample(reencoded)

		if got != orig {
			t.Errorf("byte 0x%02X: decoded %d, re-encoded decodes to %d", b, orig, got)
		}
		if reencoded != byte(b) && byte(b) != 0x7F {
			t.Errorf("byte 0x%02X re-encoded as 0x%02X", b, reencoded)
		}
	}
}

func TestMuLawEncodeDecodeEncodeIdempotent(t *testing.T) {
	for b := 0; b < 256; b++ {
		once := MuLawEncodeSample(MuLawDecodeSample(byte(b)))
		twice := MuLawEncodeSample(MuLawDecodeSample(once))
		if once != twice {
			t.Errorf("byte 0x%02X: encode∘decode not idempotent (0x%02X vs 0x%02X)", b, once, twice)
		}
	}
}

func TestMuLawSilence(t *testing.T) {
	if MuLawSilence != 0xFF {
		t.Errorf("MuLawSilence = 0x%02X, want 0xFF", MuLawSilence)
	}
	if got := MuLawDecodeSample(MuLawSilence); got != 0 {
		t.Errorf("silence decodes to %d, want 0", got)
	}
}

func TestDecodeMuLawToPCM16(t *testing.T) {
	pcm := DecodeMuLawToPCM16([]byte{0xFF, 0x7F})
	if len(pcm) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(pcm))
	}
	// 0xFF decodes to zero.
	if pcm[0] != 0 || pcm[1] != 0 {
		t.Errorf("silence sample = [%d %d], want [0 0]", pcm[0], pcm[1])
	}

	if got := DecodeMuLawToPCM16(nil); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}

func TestEncodePCM16ToMuLaw(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 1000, -1000, 32000, -32000})
	mu := EncodePCM16ToMuLaw(pcm)
	if len(mu) != 5 {
		t.Fatalf("expected 5 bytes, got %d", len(mu))
	}
	if mu[0] != MuLawSilence {
		t.Errorf("zero sample encoded as 0x%02X, want 0x%02X", mu[0], MuLawSilence)
	}
}
