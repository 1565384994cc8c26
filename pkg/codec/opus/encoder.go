// Package opus implements the [transcode.Encoder] interface on top of the
// gopus bindings.
//
// Opus is a packet codec with a fixed frame size: this encoder uses 20 ms
// frames, the size used by most real-time transports. Incoming buffers are
// accumulated until a full frame is available; [Encoder.Flush] zero-pads the
// tail so no pushed audio is lost at end of stream.
//
// Note that gopus supports the Opus sample rates only (8, 12, 16, 24, and
// 48 kHz). [NewEncoder] rejects anything else.
//
// Of the [transcode.EncoderConfig] knobs, this stage honors Bitrate, clamped
// to the 6 to 510 kbit/s range Opus defines. libopus encodes in variable
// bitrate mode by default, so the VBR knob changes nothing here, and the
// MP3-style Quality and VBRQuality gradients have no Opus equivalent.
package opus

import (
	"fmt"
	"sync"
	"time"

	"layeh.com/gopus"

	"github.com/MrWong99/waveforge/pkg/audio"
	"github.com/MrWong99/waveforge/pkg/transcode"
)

// frameMs is the Opus packet duration used for all encoded units.
const frameMs = 20

// maxPacketBytes is the output buffer cap handed to gopus per packet. Opus
// packets for 20 ms frames stay far below this.
const maxPacketBytes = 4000

// Opus bitrate bounds in kbit/s.
const (
	minBitrateKbps = 6
	maxBitrateKbps = 510
)

// Encoder encodes interleaved S16 PCM into Opus packets. It is safe for
// concurrent use.
type Encoder struct {
	mu        sync.Mutex
	enc       *gopus.Encoder
	rate      int
	channels  int
	bitrate   int // applied bitrate in kbit/s, 0 means the library default
	frameSize int // samples per channel per packet

	pending    []int16
	samplesOut int64
}

// NewEncoder creates an Opus encoder for the given stream parameters. A
// cfg.Bitrate of zero keeps the library's default; any other value is clamped
// to the Opus bitrate range and applied.
func NewEncoder(sampleRate, channels int, cfg transcode.EncoderConfig) (*Encoder, error) {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("opus: unsupported sample rate %d", sampleRate)
	}
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}

	bitrate := cfg.Bitrate
	if bitrate != 0 {
		bitrate = min(max(bitrate, minBitrateKbps), maxBitrateKbps)
		enc.SetBitrate(bitrate * 1000)
	}

	return &Encoder{
		enc:       enc,
		rate:      sampleRate,
		channels:  channels,
		bitrate:   bitrate,
		frameSize: sampleRate * frameMs / 1000,
	}, nil
}

// Bitrate returns the applied bitrate in kbit/s, or 0 when the encoder runs
// at the library default.
func (e *Encoder) Bitrate() int { return e.bitrate }

// Encode buffers the frame's samples and returns one [transcode.Unit] per
// complete 20 ms Opus packet that became available.
func (e *Encoder) Encode(f audio.Frame) ([]transcode.Unit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, audio.BytesToInt16s(f.Data)...)
	return e.drain()
}

// Flush zero-pads any pending samples to a full packet and returns the final
// encoded units. Calling Flush with an empty pending buffer returns nil.
func (e *Encoder) Flush() ([]transcode.Unit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return nil, nil
	}
	chunk := e.frameSize * e.channels
	for len(e.pending)%chunk != 0 {
		e.pending = append(e.pending, 0)
	}
	return e.drain()
}

// drain encodes all complete packets in the pending buffer. Must be called
// with e.mu held.
func (e *Encoder) drain() ([]transcode.Unit, error) {
	chunk := e.frameSize * e.channels
	var units []transcode.Unit
	for len(e.pending) >= chunk {
		packet, err := e.enc.Encode(e.pending[:chunk], e.frameSize, maxPacketBytes)
		if err != nil {
			return units, fmt.Errorf("opus: encode: %w", err)
		}
		e.pending = e.pending[chunk:]

		pts := time.Duration(e.samplesOut * int64(time.Second) / int64(e.rate))
		e.samplesOut += int64(e.frameSize)

		out := make([]byte, len(packet))
		copy(out, packet)
		units = append(units, transcode.NewUnit(out, pts))
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
	return units, nil
}
