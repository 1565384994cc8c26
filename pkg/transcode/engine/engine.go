// Package engine provides the default [transcode.Engine]: a buffered channel
// source, the linear-interpolation format converter from [audio], the shine
// MP3 encoder, and a bounded queue sink. Opus output via gopus can be selected
// through [transcode.EncoderConfig].
package engine

import (
	"fmt"

	"github.com/MrWong99/waveforge/pkg/audio"
	"github.com/MrWong99/waveforge/pkg/codec/mp3"
	"github.com/MrWong99/waveforge/pkg/codec/opus"
	"github.com/MrWong99/waveforge/pkg/transcode"
)

// Default is the stock engine. The zero value is ready to use:
//
//	p, err := transcode.New(cfg, engine.Default{})
type Default struct{}

var _ transcode.Engine = Default{}

// NewSource returns a buffered channel source with backpressure.
func (Default) NewSource(cfg transcode.StreamConfig) (transcode.Source, error) {
	return transcode.NewBufferedSource(), nil
}

// NewConverter returns a converter that normalises frames to the configured
// sample rate and channel count. Only 16-bit little-endian samples are
// supported by the stock converter.
func (Default) NewConverter(cfg transcode.StreamConfig) (transcode.Converter, error) {
	if cfg.BitDepth != 16 {
		return nil, fmt.Errorf("engine: unsupported bit depth %d, only 16 is supported", cfg.BitDepth)
	}
	if cfg.Format != transcode.FormatS16LE {
		return nil, fmt.Errorf("engine: unsupported sample format %q, only %q is supported",
			cfg.Format, transcode.FormatS16LE)
	}
	return &audio.FormatConverter{
		Target: audio.Format{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		},
	}, nil
}

// NewEncoder returns the encoder selected by enc.Codec, configured with the
// remaining knobs. Each stage documents which knobs it can honor.
func (Default) NewEncoder(cfg transcode.StreamConfig, enc transcode.EncoderConfig) (transcode.Encoder, error) {
	switch enc.Codec {
	case transcode.CodecMP3:
		return mp3.NewEncoder(cfg.SampleRate, cfg.Channels, enc)
	case transcode.CodecOpus:
		return opus.NewEncoder(cfg.SampleRate, cfg.Channels, enc)
	default:
		return nil, fmt.Errorf("engine: unknown codec %q", enc.Codec)
	}
}

// NewSink returns a bounded queue sink.
func (Default) NewSink() (transcode.Sink, error) {
	return transcode.NewQueueSink(), nil
}
