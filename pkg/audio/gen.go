package audio

import "math"

// Silence returns a zero-filled PCM buffer covering the given number of
// samples per channel in the given format. 16-bit samples are assumed.
func Silence(samples, channels int) []byte {
	if samples <= 0 || channels <= 0 {
		return nil
	}
	return make([]byte, samples*channels*2)
}

// Tone generates a sine wave at the given frequency as interleaved 16-bit PCM,
// covering the given number of samples per channel at 50% amplitude. Useful
// for end-to-end encoder tests where a known, non-silent signal is needed.
func Tone(freq float64, rate, channels, samples int) []byte {
	if rate <= 0 || channels <= 0 || samples <= 0 {
		return nil
	}
	out := make([]byte, samples*channels*2)
	for i := 0; i < samples; i++ {
		t := float64(i) / float64(rate)
		v := int16(math.Sin(2*math.Pi*freq*t) * 32767.0 * 0.5)
		for ch := 0; ch < channels; ch++ {
			j := (i*channels + ch) * 2
			out[j] = byte(v)
			out[j+1] = byte(v >> 8)
		}
	}
	return out
}
