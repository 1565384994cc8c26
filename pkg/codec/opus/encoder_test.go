package opus_test

import (
	"testing"
	"time"

	"github.com/MrWong99/waveforge/pkg/audio"
	"github.com/MrWong99/waveforge/pkg/codec/opus"
	"github.com/MrWong99/waveforge/pkg/transcode"
)

func TestNewEncoder_AppliesBitrate(t *testing.T) {
	tests := []struct {
		name    string
		bitrate int
		want    int
	}{
		{"library default", 0, 0},
		{"in range", 96, 96},
		{"clamped to maximum", 1000, 510},
		{"clamped to minimum", 1, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := opus.NewEncoder(48000, 2, transcode.EncoderConfig{Bitrate: tt.bitrate})
			if err != nil {
				t.Fatalf("NewEncoder: %v", err)
			}
			if got := enc.Bitrate(); got != tt.want {
				t.Errorf("Bitrate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewEncoder_RejectsUnsupportedRate(t *testing.T) {
	if _, err := opus.NewEncoder(44100, 2, transcode.EncoderConfig{}); err == nil {
		t.Fatal("expected error for 44.1 kHz, which Opus does not support")
	}
	if _, err := opus.NewEncoder(48000, 2, transcode.EncoderConfig{}); err != nil {
		t.Fatalf("unexpected error for 48 kHz: %v", err)
	}
}

func TestEncoder_PacketizesAt20ms(t *testing.T) {
	const rate = 48000
	enc, err := opus.NewEncoder(rate, 1, transcode.EncoderConfig{})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	// Half a packet: nothing comes out yet.
	units, err := enc.Encode(audio.Frame{
		Data:       audio.Tone(440, rate, 1, 480),
		SampleRate: rate,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("got %d units from half a packet, want 0", len(units))
	}

	// Three more half-packets: two full packets total.
	for i := 0; i < 3; i++ {
		more, err := enc.Encode(audio.Frame{
			Data:       audio.Tone(440, rate, 1, 480),
			SampleRate: rate,
			Channels:   1,
		})
		if err != nil {
			t.Fatalf("Encode %d: %v", i, err)
		}
		units = append(units, more...)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}

	if units[0].Timestamp() != 0 {
		t.Errorf("first packet timestamp = %v, want 0", units[0].Timestamp())
	}
	if units[1].Timestamp() != 20*time.Millisecond {
		t.Errorf("second packet timestamp = %v, want 20ms", units[1].Timestamp())
	}
	for i, u := range units {
		if len(u.Bytes()) == 0 {
			t.Errorf("packet %d is empty", i)
		}
	}
}

func TestEncoder_FlushPadsTail(t *testing.T) {
	const rate = 16000
	enc, err := opus.NewEncoder(rate, 2, transcode.EncoderConfig{})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	if _, err := enc.Encode(audio.Frame{
		Data:       audio.Tone(220, rate, 2, 100),
		SampleRate: rate,
		Channels:   2,
	}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	units, err := enc.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units from flush, want 1", len(units))
	}

	units, err = enc.Flush()
	if err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if len(units) != 0 {
		t.Errorf("second flush emitted %d units, want 0", len(units))
	}
}
