// Package mp3 implements the [transcode.Encoder] interface on top of the pure
// Go shine MP3 encoder.
//
// MP3 operates on fixed granules: 1152 samples per channel for MPEG-1 sample
// rates (32 kHz and above) and 576 for MPEG-2 rates below that. Incoming
// buffers rarely align with granule boundaries, so the encoder keeps a pending
// sample tail between calls and only emits complete frames. [Encoder.Flush]
// zero-pads the tail so no pushed audio is lost at end of stream.
//
// Shine is a constant-bitrate encoder configured entirely through its
// constructor, which takes the sample rate and channel count; it offers no
// quality gradient or variable-bitrate mode. [NewEncoder] therefore validates
// the requested bitrate against the Layer III table for the stream's MPEG
// version and rejects values the format cannot carry, while the Quality, VBR,
// and VBRQuality knobs of [transcode.EncoderConfig] are accepted but have no
// effect on this stage.
//
// This package lives under pkg/ because it is usable independently of the
// pipeline controller: anything that produces interleaved S16 samples can feed
// it directly.
package mp3

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/braheezy/shine-mp3/pkg/mp3"

	"github.com/MrWong99/waveforge/pkg/audio"
	"github.com/MrWong99/waveforge/pkg/transcode"
)

// frameSamples returns the MP3 granule size in samples per channel for the
// given sample rate.
func frameSamples(sampleRate int) int {
	if sampleRate >= 32000 {
		return 1152 // MPEG-1
	}
	return 576 // MPEG-2 and MPEG-2.5
}

// Layer III bitrates in kbit/s, per MPEG version.
var (
	mpeg1Bitrates = []int{32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320}
	mpeg2Bitrates = []int{8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160}
)

// validBitrate reports whether kbps is a legal Layer III bitrate for the
// MPEG version implied by sampleRate.
func validBitrate(sampleRate, kbps int) bool {
	table := mpeg2Bitrates
	if sampleRate >= 32000 {
		table = mpeg1Bitrates
	}
	for _, b := range table {
		if b == kbps {
			return true
		}
	}
	return false
}

// Encoder encodes interleaved S16 PCM into MP3 frames. It is safe for
// concurrent use, though the pipeline only ever calls it from a single
// goroutine.
//
// The sample counter that drives unit timestamps survives [Encoder.Flush], so
// a stream that is stopped and resumed keeps a continuous timeline.
type Encoder struct {
	mu       sync.Mutex
	enc      *mp3.Encoder
	rate     int
	channels int
	granule  int // samples per channel per MP3 frame

	pending    []int16 // interleaved samples waiting for a complete granule
	samplesOut int64   // per-channel samples already emitted, drives timestamps
}

// NewEncoder creates an MP3 encoder for the given stream parameters. A
// cfg.Bitrate of zero falls back to the format maximum; any other value must
// be a legal Layer III bitrate for the stream's MPEG version. See the package
// doc for which knobs shine can honor.
func NewEncoder(sampleRate, channels int, cfg transcode.EncoderConfig) (*Encoder, error) {
	if cfg.Bitrate != 0 && !validBitrate(sampleRate, cfg.Bitrate) {
		return nil, fmt.Errorf("mp3: bitrate %d kbit/s is not a Layer III bitrate at %d Hz", cfg.Bitrate, sampleRate)
	}
	return &Encoder{
		enc:      mp3.NewEncoder(sampleRate, channels),
		rate:     sampleRate,
		channels: channels,
		granule:  frameSamples(sampleRate),
	}, nil
}

// Encode buffers the frame's samples and returns one [transcode.Unit] per
// complete MP3 frame that became available. It may return an empty slice when
// the pending buffer has not yet reached a granule boundary.
func (e *Encoder) Encode(f audio.Frame) ([]transcode.Unit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, audio.BytesToInt16s(f.Data)...)
	return e.drain()
}

// Flush zero-pads any pending samples to a full granule and returns the final
// encoded units. Calling Flush with an empty pending buffer returns nil.
func (e *Encoder) Flush() ([]transcode.Unit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return nil, nil
	}
	chunk := e.granule * e.channels
	for len(e.pending)%chunk != 0 {
		e.pending = append(e.pending, 0)
	}
	return e.drain()
}

// drain encodes all complete granules in the pending buffer. Must be called
// with e.mu held.
func (e *Encoder) drain() ([]transcode.Unit, error) {
	chunk := e.granule * e.channels
	var units []transcode.Unit
	for len(e.pending) >= chunk {
		var buf bytes.Buffer
		if err := e.enc.Write(&buf, e.pending[:chunk]); err != nil {
			return units, fmt.Errorf("mp3: encode: %w", err)
		}
		e.pending = e.pending[chunk:]

		pts := time.Duration(e.samplesOut * int64(time.Second) / int64(e.rate))
		e.samplesOut += int64(e.granule)

		if buf.Len() > 0 {
			units = append(units, transcode.NewUnit(buf.Bytes(), pts))
		}
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
	return units, nil
}
