package audio

// Resample8kTo16k doubles the sample rate of 16-bit little-endian PCM using
// linear interpolation. The telephony leg speaks 8kHz; the voice agent's
// speech recognition wants 16kHz.
func Resample8kTo16k(pcm8k []byte) []byte {
	if len(pcm8k) == 0 {
		return nil
	}

	in := bytesToSamples(pcm8k)
	out := make([]int16, len(in)*2)
	for i := range in {
		out[i*2] = in[i]
		if i < len(in)-1 {
			out[i*2+1] = int16((int32(in[i]) + int32(in[i+1])) / 2)
		} else {
			out[i*2+1] = in[i]
		}
	}
	return samplesToBytes(out)
}

// Resample16kTo8k halves the sample rate of 16-bit little-endian PCM by
// decimation.
func Resample16kTo8k(pcm16k []byte) []byte {
	if len(pcm16k) == 0 {
		return nil
	}

	in := bytesToSamples(pcm16k)
	out := make([]int16, len(in)/2)
	for i := range out {
		out[i] = in[i*2]
	}
	return samplesToBytes(out)
}
