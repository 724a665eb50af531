package audio

import (
	"bytes"
	"testing"
)

func TestResample8kTo16k(t *testing.T) {
	if got := Resample8kTo16k(nil); got != nil {
		t.Errorf("expected nil for empty input, got %d bytes", len(got))
	}

	in := samplesToBytes([]int16{0, 100, -100, 32767})
	out := Resample8kTo16k(in)
	if len(out) != 2*len(in) {
		t.Fatalf("expected %d bytes, got %d", 2*len(in), len(out))
	}

	samples := bytesToSamples(out)
	// even positions carry the source samples, odd positions interpolate
	want := []int16{0, 50, 100, 0, -100, 16333, 32767, 32767}
	for i, s := range samples {
		if s != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], s)
		}
	}
}

func TestResample16kTo8k(t *testing.T) {
	if got := Resample16kTo8k(nil); got != nil {
		t.Errorf("expected nil for empty input, got %d bytes", len(got))
	}

	in := samplesToBytes([]int16{10, 11, 20, 21, 30, 31})
	out := bytesToSamples(Resample16kTo8k(in))
	want := []int16{10, 20, 30}
	if len(out) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out))
	}
	for i, s := range out {
		if s != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], s)
		}
	}
}

func TestResampleRoundTrip(t *testing.T) {
	// upsampling keeps the source at even positions, so decimating
	// back recovers the original signal exactly
	in := samplesToBytes([]int16{0, 1000, -1000, 500, 32767, -32768})
	got := Resample16kTo8k(Resample8kTo16k(in))
	if !bytes.Equal(got, in) {
		t.Errorf("round trip altered samples: % x vs % x", got, in)
	}
}
