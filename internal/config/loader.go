package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied by [ApplyDefaults].
const (
	DefaultSampleRate      = 32000
	DefaultChannels        = 1
	DefaultBitDepth        = 16
	DefaultChunkBytes      = 3200
	DefaultCodec           = "mp3"
	DefaultBitrate         = 320
	DefaultFillerThreshold = 500 * time.Millisecond
	DefaultFillerDuration  = 250 * time.Millisecond
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields of cfg with the package defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Stream.SampleRate == 0 {
		cfg.Stream.SampleRate = DefaultSampleRate
	}
	if cfg.Stream.Channels == 0 {
		cfg.Stream.Channels = DefaultChannels
	}
	if cfg.Stream.BitDepth == 0 {
		cfg.Stream.BitDepth = DefaultBitDepth
	}
	if cfg.Stream.ChunkBytes == 0 {
		cfg.Stream.ChunkBytes = DefaultChunkBytes
	}
	if cfg.Encoder.Codec == "" {
		cfg.Encoder.Codec = DefaultCodec
	}
	if cfg.Encoder.Bitrate == 0 {
		cfg.Encoder.Bitrate = DefaultBitrate
	}
	if cfg.Filler.Threshold == 0 {
		cfg.Filler.Threshold = DefaultFillerThreshold
	}
	if cfg.Filler.Duration == 0 {
		cfg.Filler.Duration = DefaultFillerDuration
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Stream.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("stream.sample_rate %d must be positive", cfg.Stream.SampleRate))
	}
	if cfg.Stream.Channels <= 0 {
		errs = append(errs, fmt.Errorf("stream.channels %d must be positive", cfg.Stream.Channels))
	}
	if cfg.Stream.BitDepth <= 0 || cfg.Stream.BitDepth%8 != 0 {
		errs = append(errs, fmt.Errorf("stream.bit_depth %d must be a positive multiple of 8", cfg.Stream.BitDepth))
	}

	sampleSize := cfg.Stream.Channels * (cfg.Stream.BitDepth / 8)
	if sampleSize > 0 {
		if cfg.Stream.ChunkBytes <= 0 {
			errs = append(errs, fmt.Errorf("stream.chunk_bytes %d must be positive", cfg.Stream.ChunkBytes))
		} else if cfg.Stream.ChunkBytes%sampleSize != 0 {
			errs = append(errs, fmt.Errorf("stream.chunk_bytes %d must be a multiple of the %d-byte sample size", cfg.Stream.ChunkBytes, sampleSize))
		}
	}

	switch cfg.Encoder.Codec {
	case "mp3", "opus":
	default:
		errs = append(errs, fmt.Errorf("encoder.codec %q is invalid; valid values: mp3, opus", cfg.Encoder.Codec))
	}
	if cfg.Encoder.Bitrate < 0 {
		errs = append(errs, fmt.Errorf("encoder.bitrate %d must not be negative", cfg.Encoder.Bitrate))
	}
	if cfg.Encoder.Quality < 0 || cfg.Encoder.Quality > 9 {
		errs = append(errs, fmt.Errorf("encoder.quality %d is out of range [0, 9]", cfg.Encoder.Quality))
	}
	if cfg.Encoder.VBRQuality < 0 || cfg.Encoder.VBRQuality > 9 {
		errs = append(errs, fmt.Errorf("encoder.vbr_quality %d is out of range [0, 9]", cfg.Encoder.VBRQuality))
	}

	if cfg.Filler.Enabled {
		if cfg.Filler.Threshold <= 0 {
			errs = append(errs, fmt.Errorf("filler.threshold %v must be positive", cfg.Filler.Threshold))
		}
		if cfg.Filler.Duration < time.Millisecond {
			errs = append(errs, fmt.Errorf("filler.duration %v must be at least 1ms", cfg.Filler.Duration))
		}
	}

	return errors.Join(errs...)
}
