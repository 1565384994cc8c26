package transcode_test

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/waveforge/pkg/audio"
	"github.com/MrWong99/waveforge/pkg/transcode"
	"github.com/MrWong99/waveforge/pkg/transcode/engine"
	"github.com/MrWong99/waveforge/pkg/transcode/mock"
)

// testConfig is the stream format used by most pipeline tests: 32 kHz mono
// S16LE, so one sample is 2 bytes and 3200 bytes cover exactly 50 ms.
var testConfig = transcode.StreamConfig{
	SampleRate: 32000,
	Channels:   1,
	BitDepth:   16,
	Format:     transcode.FormatS16LE,
}

const push50ms = 3200

func discard([]byte) {}

func TestNew_BuildErrorNamesFailingStage(t *testing.T) {
	boom := errors.New("no such codec")
	_, err := transcode.New(testConfig, &mock.Engine{EncoderError: boom})

	var be *transcode.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BuildError", err)
	}
	if be.Stage != "encoder" {
		t.Errorf("Stage = %q, want %q", be.Stage, "encoder")
	}
	if !errors.Is(err, boom) {
		t.Error("BuildError does not wrap the stage constructor error")
	}
}

func TestNew_EncoderConfigReachesEngine(t *testing.T) {
	eng := &mock.Engine{}
	want := transcode.EncoderConfig{
		Codec:      transcode.CodecOpus,
		Bitrate:    96,
		Quality:    2,
		VBR:        true,
		VBRQuality: 3,
	}

	p, err := transcode.New(testConfig, eng, transcode.WithEncoderConfig(want))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if len(eng.NewEncoderCalls) != 1 {
		t.Fatalf("NewEncoder called %d times, want 1", len(eng.NewEncoderCalls))
	}
	if got := eng.NewEncoderCalls[0]; got != want {
		t.Errorf("encoder config passed to engine = %+v, want %+v", got, want)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig
	cfg.SampleRate = -8000
	if _, err := transcode.New(cfg, &mock.Engine{}); err == nil {
		t.Fatal("New accepted a negative sample rate")
	}
}

func TestPushPCM_BeforeStart(t *testing.T) {
	p, err := transcode.New(testConfig, &mock.Engine{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	err = p.PushPCM(make([]byte, push50ms))
	var pe *transcode.PushError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PushError", err)
	}
	if !errors.Is(err, transcode.ErrNotRunning) {
		t.Error("PushError does not wrap ErrNotRunning")
	}
	if p.PTS() != 0 {
		t.Errorf("PTS advanced to %v on a rejected push", p.PTS())
	}
}

func TestPushPCM_AdvancesTimestampByDuration(t *testing.T) {
	enc := &mock.Encoder{}
	p, err := transcode.New(testConfig, &mock.Engine{EncoderResult: enc})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Start(discard); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.PushPCM(make([]byte, push50ms)); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if got := p.PTS(); got != 50*time.Millisecond {
		t.Errorf("PTS after first push = %v, want 50ms", got)
	}
	if err := p.PushPCM(make([]byte, 2*push50ms)); err != nil {
		t.Fatalf("second push: %v", err)
	}
	if got := p.PTS(); got != 150*time.Millisecond {
		t.Errorf("PTS after second push = %v, want 150ms", got)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Frames are tagged with the counter value before their own increment, so
	// consecutive buffers line up back-to-back.
	if len(enc.EncodeCalls) != 2 {
		t.Fatalf("encoder saw %d frames, want 2", len(enc.EncodeCalls))
	}
	if enc.EncodeCalls[0].Timestamp != 0 {
		t.Errorf("first frame timestamp = %v, want 0", enc.EncodeCalls[0].Timestamp)
	}
	if enc.EncodeCalls[1].Timestamp != 50*time.Millisecond {
		t.Errorf("second frame timestamp = %v, want 50ms", enc.EncodeCalls[1].Timestamp)
	}
	if enc.EncodeCalls[1].Timestamp != enc.EncodeCalls[0].Timestamp+enc.EncodeCalls[0].Duration {
		t.Error("second frame does not start where the first one ends")
	}
}

func TestPushPCM_MisalignedBufferLeavesCounterUntouched(t *testing.T) {
	p, err := transcode.New(testConfig, &mock.Engine{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Start(discard); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.PushPCM(make([]byte, push50ms)); err != nil {
		t.Fatalf("aligned push: %v", err)
	}

	err = p.PushPCM(make([]byte, 3))
	var ae *transcode.AlignmentError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *AlignmentError", err)
	}
	if ae.Len != 3 || ae.SampleSize != 2 {
		t.Errorf("AlignmentError = {Len: %d, SampleSize: %d}, want {3, 2}", ae.Len, ae.SampleSize)
	}
	if got := p.PTS(); got != 50*time.Millisecond {
		t.Errorf("PTS = %v after rejected push, want unchanged 50ms", got)
	}
}

func TestPushPCM_EmptyBufferIsNoOp(t *testing.T) {
	src := &mock.Source{}
	p, err := transcode.New(testConfig, &mock.Engine{SourceResult: src})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Start(discard); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.PushPCM(nil); err != nil {
		t.Fatalf("empty push: %v", err)
	}
	if p.PTS() != 0 {
		t.Errorf("PTS = %v after empty push, want 0", p.PTS())
	}
	if len(src.PushCalls) != 0 {
		t.Errorf("source saw %d pushes, want 0", len(src.PushCalls))
	}
}

func TestPushSilence_BuildsZeroBufferOfExactDuration(t *testing.T) {
	src := &mock.Source{}
	p, err := transcode.New(testConfig, &mock.Engine{SourceResult: src})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Start(discard); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.PushSilence(time.Second); err != nil {
		t.Fatalf("PushSilence: %v", err)
	}
	if got := p.PTS(); got != time.Second {
		t.Errorf("PTS = %v after 1s of silence, want 1s", got)
	}

	if len(src.PushCalls) != 1 {
		t.Fatalf("source saw %d pushes, want a single buffer", len(src.PushCalls))
	}
	data := src.PushCalls[0].Data
	if len(data) != 64000 {
		t.Errorf("silence buffer = %d bytes, want 64000 (1s at 32kHz mono 16-bit)", len(data))
	}
	if !bytes.Equal(data, make([]byte, len(data))) {
		t.Error("silence buffer contains non-zero samples")
	}

	// Sub-millisecond durations truncate to nothing.
	if err := p.PushSilence(900 * time.Microsecond); err != nil {
		t.Fatalf("sub-ms PushSilence: %v", err)
	}
	if len(src.PushCalls) != 1 {
		t.Error("sub-millisecond silence produced a push")
	}
}

func TestStart_IllegalFromRunning(t *testing.T) {
	p, err := transcode.New(testConfig, &mock.Engine{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Start(discard); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err = p.Start(discard)
	var se *transcode.StateError
	if !errors.As(err, &se) {
		t.Fatalf("second Start = %v, want *StateError", err)
	}
	if se.From != transcode.StateRunning {
		t.Errorf("StateError.From = %v, want running", se.From)
	}
}

func TestStart_RequiresCallback(t *testing.T) {
	p, err := transcode.New(testConfig, &mock.Engine{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Start(nil); err == nil {
		t.Fatal("Start accepted a nil delivery callback")
	}
	if p.State() != transcode.StateBuilt {
		t.Errorf("state = %v after rejected Start, want built", p.State())
	}
}

func TestStop_NoDeliveriesAfterReturn(t *testing.T) {
	p, err := transcode.New(testConfig, &mock.Engine{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var delivered atomic.Int64
	if err := p.Start(func(b []byte) { delivered.Add(1) }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := p.PushPCM(make([]byte, push50ms)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.State() != transcode.StateIdle {
		t.Errorf("state = %v after Stop, want idle", p.State())
	}

	// Everything accepted before Stop is delivered (mock encoder is 1:1).
	if got := delivered.Load(); got != 10 {
		t.Errorf("delivered %d units, want 10", got)
	}

	// Stop is a join barrier: the count must not move afterwards.
	before := delivered.Load()
	time.Sleep(50 * time.Millisecond)
	if after := delivered.Load(); after != before {
		t.Errorf("deliveries continued after Stop returned: %d -> %d", before, after)
	}

	// Pushing into a stopped pipeline is rejected.
	err = p.PushPCM(make([]byte, push50ms))
	if !errors.Is(err, transcode.ErrNotRunning) {
		t.Errorf("push after Stop = %v, want ErrNotRunning", err)
	}

	// Stop again is a no-op.
	if err := p.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestStop_BeforeStartIsSafe(t *testing.T) {
	p, err := transcode.New(testConfig, &mock.Engine{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop on never-started pipeline: %v", err)
	}
	if p.State() != transcode.StateBuilt {
		t.Errorf("state = %v, want built", p.State())
	}
}

func TestClose_ReleasesWithoutPriorStop(t *testing.T) {
	sink := &mock.Sink{}
	p, err := transcode.New(testConfig, &mock.Engine{SinkResult: sink})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Start(discard); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p.State() != transcode.StateClosed {
		t.Errorf("state = %v, want closed", p.State())
	}
	if sink.CallCountClose == 0 {
		t.Error("sink was not closed")
	}

	// Close is idempotent; Stop after Close reports the closed pipeline.
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := p.Stop(); !errors.Is(err, transcode.ErrClosed) {
		t.Errorf("Stop after Close = %v, want ErrClosed", err)
	}
	if err := p.PushPCM(make([]byte, push50ms)); !errors.Is(err, transcode.ErrNotRunning) {
		t.Errorf("push after Close = %v, want ErrNotRunning", err)
	}
}

func TestConcurrentPushes_CounterSumsExactly(t *testing.T) {
	p, err := transcode.New(testConfig, &mock.Engine{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var deliveredBytes atomic.Int64
	if err := p.Start(func(b []byte) { deliveredBytes.Add(int64(len(b))) }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const (
		producers = 8
		pushes    = 25
	)
	var wg sync.WaitGroup
	for g := 0; g < producers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < pushes; i++ {
				if err := p.PushPCM(make([]byte, push50ms)); err != nil {
					t.Errorf("push: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	want := time.Duration(producers*pushes) * 50 * time.Millisecond
	if got := p.PTS(); got != want {
		t.Errorf("PTS = %v after concurrent pushes, want %v", got, want)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := deliveredBytes.Load(); got != int64(producers*pushes*push50ms) {
		t.Errorf("delivered %d bytes, want %d", got, producers*pushes*push50ms)
	}
}

func TestPersistentSinkFailure_FailsTerminally(t *testing.T) {
	sink := &mock.Sink{PullError: errors.New("backend gone")}
	failed := make(chan error, 1)

	p, err := transcode.New(testConfig,
		&mock.Engine{SinkResult: sink},
		transcode.WithErrorHandler(func(err error) { failed <- err }),
		transcode.WithPullTimeout(5*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Start(discard); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-failed:
		if err == nil {
			t.Fatal("error handler received nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error handler was not invoked")
	}

	if p.State() != transcode.StateFailed {
		t.Errorf("state = %v, want failed", p.State())
	}
	if err := p.PushPCM(make([]byte, push50ms)); !errors.Is(err, transcode.ErrNotRunning) {
		t.Errorf("push into failed pipeline = %v, want ErrNotRunning", err)
	}
	var se *transcode.StateError
	if err := p.Start(discard); !errors.As(err, &se) {
		t.Errorf("Start on failed pipeline = %v, want *StateError", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop on failed pipeline: %v", err)
	}
}

func TestDelivery_CopiesBytesAndReleasesUnit(t *testing.T) {
	unit := &mock.Unit{Data: []byte{1, 2, 3}, PTS: 0}
	enc := &mock.Encoder{
		EncodeFunc: func(f audio.Frame) ([]transcode.Unit, error) {
			return []transcode.Unit{unit}, nil
		},
	}
	p, err := transcode.New(testConfig, &mock.Engine{EncoderResult: enc})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var got []byte
	var mu sync.Mutex
	if err := p.Start(func(b []byte) {
		mu.Lock()
		got = b
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.PushPCM(make([]byte, push50ms)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("delivered %v, want [1 2 3]", got)
	}
	if unit.CallCountRelease != 1 {
		t.Errorf("unit released %d times, want 1", unit.CallCountRelease)
	}
	// The delivered buffer is the consumer's own copy.
	if len(got) > 0 {
		got[0] = 99
		if unit.Data[0] == 99 {
			t.Error("delivery callback received the unit's backing array")
		}
	}
}

func TestRestart_KeepsTimestampContinuity(t *testing.T) {
	p, err := transcode.New(testConfig, engine.Default{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Start(discard); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := p.PushPCM(make([]byte, push50ms)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := p.Start(discard); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := p.PushPCM(make([]byte, push50ms)); err != nil {
		t.Fatalf("push after restart: %v", err)
	}
	if got := p.PTS(); got != 100*time.Millisecond {
		t.Errorf("PTS = %v after restart, want a continuous 100ms", got)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("final Stop: %v", err)
	}
}

func TestEndToEnd_MP3Output(t *testing.T) {
	cfg := transcode.StreamConfig{
		SampleRate: 44100,
		Channels:   2,
		BitDepth:   16,
		Format:     transcode.FormatS16LE,
	}
	p, err := transcode.New(cfg, engine.Default{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var mu sync.Mutex
	var out bytes.Buffer
	if err := p.Start(func(b []byte) {
		mu.Lock()
		out.Write(b)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Half a second of tone in 20ms pushes.
	const samplesPerPush = 44100 / 50
	for i := 0; i < 25; i++ {
		if err := p.PushPCM(audio.Tone(440, 44100, 2, samplesPerPush)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := out.Len()
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no encoded output within the deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := p.PTS(); got != 500*time.Millisecond {
		t.Errorf("PTS = %v, want 500ms", got)
	}
}
