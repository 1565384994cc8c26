package mp3_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/MrWong99/waveforge/pkg/audio"
	"github.com/MrWong99/waveforge/pkg/codec/mp3"
	"github.com/MrWong99/waveforge/pkg/transcode"
)

func TestNewEncoder_ValidatesBitrate(t *testing.T) {
	tests := []struct {
		name    string
		rate    int
		bitrate int
		wantErr bool
	}{
		{"zero keeps default", 44100, 0, false},
		{"mpeg1 max", 44100, 320, false},
		{"not in mpeg1 table", 44100, 300, true},
		{"mpeg2 max", 24000, 160, false},
		{"mpeg1-only rate at mpeg2", 24000, 320, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mp3.NewEncoder(tt.rate, 2, transcode.EncoderConfig{Bitrate: tt.bitrate})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEncoder(%d Hz, %d kbit/s): err = %v, wantErr %v",
					tt.rate, tt.bitrate, err, tt.wantErr)
			}
		})
	}
}

func TestEncoder_BuffersUntilGranuleBoundary(t *testing.T) {
	enc, err := mp3.NewEncoder(44100, 1, transcode.EncoderConfig{})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	// 100 samples is well below the 1152-sample granule.
	units, err := enc.Encode(audio.Frame{
		Data:       audio.Silence(100, 1),
		SampleRate: 44100,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("got %d units from a partial granule, want 0", len(units))
	}

	// Topping up past the boundary releases exactly one frame.
	units, err = enc.Encode(audio.Frame{
		Data:       audio.Silence(1100, 1),
		SampleRate: 44100,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units after crossing the granule boundary, want 1", len(units))
	}
	if len(units[0].Bytes()) == 0 {
		t.Error("unit has no encoded bytes")
	}
}

func TestEncoder_UnitTimestamps(t *testing.T) {
	enc, err := mp3.NewEncoder(44100, 1, transcode.EncoderConfig{})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	// Two full granules in one push.
	units, err := enc.Encode(audio.Frame{
		Data:       audio.Tone(440, 44100, 1, 2304),
		SampleRate: 44100,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}

	if units[0].Timestamp() != 0 {
		t.Errorf("first unit timestamp = %v, want 0", units[0].Timestamp())
	}
	want := time.Duration(1152 * int64(time.Second) / 44100)
	if units[1].Timestamp() != want {
		t.Errorf("second unit timestamp = %v, want %v", units[1].Timestamp(), want)
	}
}

func TestEncoder_FlushPadsTail(t *testing.T) {
	enc, err := mp3.NewEncoder(44100, 2, transcode.EncoderConfig{})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	if _, err := enc.Encode(audio.Frame{
		Data:       audio.Tone(330, 44100, 2, 500),
		SampleRate: 44100,
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

	// A second flush has nothing left to emit.
	units, err = enc.Flush()
	if err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if len(units) != 0 {
		t.Errorf("second flush emitted %d units, want 0", len(units))
	}
}

func TestEncoder_OutputDecodes(t *testing.T) {
	const rate = 44100
	enc, err := mp3.NewEncoder(rate, 2, transcode.EncoderConfig{})
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	// One second of a 440 Hz tone in ~20ms pushes.
	var stream bytes.Buffer
	const push = rate / 50
	for i := 0; i < 50; i++ {
		units, err := enc.Encode(audio.Frame{
			Data:       audio.Tone(440, rate, 2, push),
			SampleRate: rate,
			Channels:   2,
		})
		if err != nil {
			t.Fatalf("Encode %d: %v", i, err)
		}
		for _, u := range units {
			stream.Write(u.Bytes())
		}
	}
	units, err := enc.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for _, u := range units {
		stream.Write(u.Bytes())
	}

	dec, err := gomp3.NewDecoder(bytes.NewReader(stream.Bytes()))
	if err != nil {
		t.Fatalf("decoding encoder output: %v", err)
	}
	if dec.SampleRate() != rate {
		t.Errorf("decoded sample rate = %d, want %d", dec.SampleRate(), rate)
	}

	decoded, err := io.Copy(io.Discard, dec)
	if err != nil {
		t.Fatalf("reading decoded stream: %v", err)
	}
	if decoded == 0 {
		t.Fatal("decoder produced no samples")
	}
}
