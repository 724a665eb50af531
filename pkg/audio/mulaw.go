package audio

// G.711 μ-law companding constants
const (
	muLawBias = 0x84
	muLawClip = 32635
)

// muLawDecodeTable maps every μ-law byte to its 16-bit linear sample.
var muLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		mu := ^byte(i)
		sign := mu & 0x80
		exponent := (mu >> 4) & 0x07
		mantissa := mu & 0x0F

		sample := ((int32(mantissa) << 3) + muLawBias) << exponent
		sample -= muLawBias

		if sample > 32767 {
			sample = 32767
		}
		if sign != 0 {
			sample = -sample
		}
		muLawDecodeTable[i] = int16(sample)
	}
}

// MuLawDecodeSample converts a single μ-law byte to a 16-bit linear sample.
func MuLawDecodeSample(b byte) int16 {
	return muLawDecodeTable[b]
}

// MuLawEncodeSample converts a 16-bit linear sample to a μ-law byte.
func MuLawEncodeSample(sample int16) byte {
	value := int32(sample)

	sign := byte(0)
	if value < 0 {
		value = -value
		sign = 0x80
	}
	if value > muLawClip {
		value = muLawClip
	}
	value += muLawBias

	// Locate the exponent from the highest set bit.
	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && value&mask == 0; exponent-- {
		mask >>= 1
	}

	mantissa := byte(value>>(exponent+3)) & 0x0F
	return ^(sign | (exponent << 4) | mantissa)
}

// MuLawSilence is the μ-law byte for a zero-amplitude sample.
// Silence must be encoded as this value, not as a raw zero byte.
var MuLawSilence = MuLawEncodeSample(0)

// DecodeMuLawToPCM16 converts G.711 μ-law (8-bit samples) to 16-bit signed
// little-endian PCM. Telephony audio arrives in this encoding at 8kHz.
func DecodeMuLawToPCM16(muLaw []byte) []byte {
	if len(muLaw) == 0 {
		return nil
	}

	samples := make([]int16, len(muLaw))
	for i, b := range muLaw {
		samples[i] = muLawDecodeTable[b]
	}
	return samplesToBytes(samples)
}

// EncodePCM16ToMuLaw converts 16-bit signed little-endian PCM to G.711 μ-law.
func EncodePCM16ToMuLaw(pcm []byte) []byte {
	if len(pcm) == 0 {
		return nil
	}

	samples := bytesToSamples(pcm)
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = MuLawEncodeSample(s)
	}
	return out
}

// bytesToSamples reinterprets little-endian 16-bit PCM bytes as samples.
func bytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// samplesToBytes serializes samples as little-endian 16-bit PCM bytes.
func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
