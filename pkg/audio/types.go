package audio

import "time"

// Frame represents a single buffer of PCM audio flowing through a pipeline.
// Frames are the atomic unit of audio transport: pushed in by producers,
// normalised by format converters, and consumed by encoder stages.
type Frame struct {
	// PCM audio data, interleaved little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (e.g., 32000 for telephony-grade streams, 48000 for Opus).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp is the presentation time of the first sample in this frame,
	// relative to stream start.
	Timestamp time.Duration

	// Duration is the wall-clock length of the audio in this frame.
	Duration time.Duration
}

// Samples returns the number of samples per channel in the frame, assuming
// 16-bit interleaved PCM.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}
