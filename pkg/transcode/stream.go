package transcode

import (
	"fmt"
	"time"
)

// Default stream parameters, chosen for telephony-grade voice input.
const (
	DefaultSampleRate = 32000
	DefaultChannels   = 1
	DefaultBitDepth   = 16
)

// SampleFormat identifies the in-memory layout of a single PCM sample.
type SampleFormat string

const (
	// FormatS16LE is signed 16-bit little-endian PCM, the only format the
	// default engine accepts.
	FormatS16LE SampleFormat = "S16LE"

	// FormatS16BE is signed 16-bit big-endian PCM.
	FormatS16BE SampleFormat = "S16BE"
)

// IsValid reports whether f is a recognised sample format.
func (f SampleFormat) IsValid() bool {
	return f == FormatS16LE || f == FormatS16BE
}

// StreamConfig describes the fixed PCM input format of a [Pipeline]. It is
// immutable after construction: the derived sample size is used to validate
// every pushed buffer for the lifetime of the pipeline.
type StreamConfig struct {
	// SampleRate in Hz. Default: 32000.
	SampleRate int

	// Channels is the number of interleaved channels. Default: 1.
	Channels int

	// BitDepth is the number of bits per sample. Default: 16.
	BitDepth int

	// Format is the PCM sample format tag. Default: [FormatS16LE].
	Format SampleFormat
}

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c StreamConfig) withDefaults() StreamConfig {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.BitDepth == 0 {
		c.BitDepth = DefaultBitDepth
	}
	if c.Format == "" {
		c.Format = FormatS16LE
	}
	return c
}

// Validate checks that c describes a usable PCM format.
func (c StreamConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("transcode: sample rate %d must be positive", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("transcode: channel count %d must be positive", c.Channels)
	}
	if c.BitDepth <= 0 || c.BitDepth%8 != 0 {
		return fmt.Errorf("transcode: bit depth %d must be a positive multiple of 8", c.BitDepth)
	}
	if !c.Format.IsValid() {
		return fmt.Errorf("transcode: unknown sample format %q", c.Format)
	}
	return nil
}

// SampleSize returns the size in bytes of one sample across all channels.
// Every pushed buffer must be a whole multiple of this value.
func (c StreamConfig) SampleSize() int {
	return c.Channels * (c.BitDepth / 8)
}

// BufferDuration returns the playback duration of a buffer of n bytes in this
// format. The computation is exact integer scaling (samples * 1s / rate), not
// floating point, so accumulated timestamps do not drift over long streams.
func (c StreamConfig) BufferDuration(n int) time.Duration {
	samples := int64(n) / int64(c.SampleSize())
	return time.Duration(samples * int64(time.Second) / int64(c.SampleRate))
}

// Codec names understood by the default engine.
const (
	CodecMP3  = "mp3"
	CodecOpus = "opus"
)

// EncoderConfig holds the tuning knobs for the encoder stage. Individual
// stages apply the knobs they support and document the ones they ignore.
type EncoderConfig struct {
	// Codec selects the encoder implementation. Default: [CodecMP3].
	Codec string

	// Bitrate is the target bitrate in kbit/s. Default: 320.
	Bitrate int

	// Quality is the encoding quality gradient, 0 (best) to 9 (worst).
	Quality int

	// VBR selects variable bitrate mode when the codec supports it.
	VBR bool

	// VBRQuality is the variable-bitrate quality gradient, 0 (highest) to 9
	// (lowest). Only meaningful when VBR is set.
	VBRQuality int
}

// DefaultEncoderConfig returns the reference high-quality configuration:
// MP3 at 320 kbit/s, best quality gradient, variable bitrate.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Codec:      CodecMP3,
		Bitrate:    320,
		Quality:    0,
		VBR:        true,
		VBRQuality: 0,
	}
}

// withDefaults returns a copy of c with unset codec and bitrate replaced by
// the reference values.
func (c EncoderConfig) withDefaults() EncoderConfig {
	if c.Codec == "" {
		c.Codec = CodecMP3
	}
	if c.Bitrate == 0 {
		c.Bitrate = 320
	}
	return c
}
