// Package config provides the configuration schema and loader for the
// waveforge transcoding service.
package config

import "time"

// LogLevel controls log verbosity for the waveforge service.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for waveforge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Stream  StreamConfig  `yaml:"stream"`
	Encoder EncoderConfig `yaml:"encoder"`
	Filler  FillerConfig  `yaml:"filler"`
}

// ServerConfig holds network and logging settings for the waveforge service.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health server listens on
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`
}

// StreamConfig describes the PCM input format.
type StreamConfig struct {
	// SampleRate in Hz. Default: 32000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the number of interleaved channels. Default: 1.
	Channels int `yaml:"channels"`

	// BitDepth is the number of bits per sample. Default: 16.
	BitDepth int `yaml:"bit_depth"`

	// ChunkBytes is the size of stdin reads fed into the pipeline. Must be a
	// whole multiple of the sample size. Default: 3200.
	ChunkBytes int `yaml:"chunk_bytes"`
}

// EncoderConfig holds the encoder stage knobs.
type EncoderConfig struct {
	// Codec selects the output codec ("mp3" or "opus"). Default: mp3.
	Codec string `yaml:"codec"`

	// Bitrate is the target bitrate in kbit/s. Default: 320.
	Bitrate int `yaml:"bitrate"`

	// Quality is the encoding quality gradient, 0 (best) to 9 (worst).
	Quality int `yaml:"quality"`

	// VBR selects variable bitrate mode when the codec supports it.
	VBR bool `yaml:"vbr"`

	// VBRQuality is the quality target for VBR mode, 0 (best) to 9 (worst).
	// Ignored unless VBR is set and the codec supports it.
	VBRQuality int `yaml:"vbr_quality"`
}

// FillerConfig controls the silence filler that keeps timestamp continuity
// alive when the input stalls.
type FillerConfig struct {
	// Enabled turns the silence filler on. Default: true in the shipped
	// config, false for the zero value.
	Enabled bool `yaml:"enabled"`

	// Threshold is how long the input may stall before silence is injected.
	// Default: 500ms.
	Threshold time.Duration `yaml:"threshold"`

	// Duration is the length of each injected silence buffer. Default: 250ms.
	Duration time.Duration `yaml:"duration"`
}
