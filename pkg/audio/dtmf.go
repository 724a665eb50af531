package audio

import "math"

// dtmfFrequencies is the ITU-T Q.23 keypad matrix: each symbol maps to its
// row/column frequency pair in Hz.
var dtmfFrequencies = map[rune][2]float64{
	'1': {697, 1209}, '2': {697, 1336}, '3': {697, 1477}, 'A': {697, 1633},
	'4': {770, 1209}, '5': {770, 1336}, '6': {770, 1477}, 'B': {770, 1633},
	'7': {852, 1209}, '8': {852, 1336}, '9': {852, 1477}, 'C': {852, 1633},
	'*': {941, 1209}, '0': {941, 1336}, '#': {941, 1477}, 'D': {941, 1633},
}

// DTMF timing
const (
	dtmfToneMs      = 100
	dtmfGapMs       = 50
	dtmfLongPauseMs = 500 // 'W'
	dtmfPauseMs     = 250 // ','
)

// SynthesizeDTMF renders a digit string as μ-law encoded dual-tone audio.
// Each recognized symbol produces 100ms of tone followed by 50ms of silence;
// 'w'/'W' produces 500ms of silence and ',' 250ms. Unrecognized symbols are
// skipped; operator input is validated strictly before it reaches here, but
// internally generated strings are allowed to carry annotations we ignore.
func SynthesizeDTMF(digits string, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = 8000
	}

	var out []byte
	for _, r := range digits {
		switch {
		case r == 'w' || r == 'W':
			out = appendSilence(out, sampleRate, dtmfLongPauseMs)
		case r == ',':
			out = appendSilence(out, sampleRate, dtmfPauseMs)
		default:
			freqs, ok := dtmfFrequencies[upperSymbol(r)]
			if !ok {
				continue
			}
			out = appendTone(out, sampleRate, freqs[0], freqs[1])
			out = appendSilence(out, sampleRate, dtmfGapMs)
		}
	}
	return out
}

func upperSymbol(r rune) rune {
	if r >= 'a' && r <= 'd' {
		return r - ('a' - 'A')
	}
	return r
}

// appendTone emits the two sine components summed at half amplitude each,
// clipped to the 16-bit range, then μ-law encoded.
func appendTone(out []byte, sampleRate int, low, high float64) []byte {
	n := sampleRate * dtmfToneMs / 1000
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		v := 0.5*math.Sin(2*math.Pi*low*t) + 0.5*math.Sin(2*math.Pi*high*t)
		sample := v * 32767
		if sample > 32767 {
			sample = 32767
		} else if sample < -32768 {
			sample = -32768
		}
		out = append(out, MuLawEncodeSample(int16(sample)))
	}
	return out
}

func appendSilence(out []byte, sampleRate, ms int) []byte {
	n := sampleRate * ms / 1000
	for i := 0; i < n; i++ {
		out = append(out, MuLawSilence)
	}
	return out
}
