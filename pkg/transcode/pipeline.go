// Package transcode implements the streaming PCM-to-MP3 pipeline at the heart
// of waveforge: a four-stage processing chain (source, converter, encoder,
// sink) with a push-based producer side and a pull-based consumer goroutine
// that delivers completed encoded units to a caller callback.
//
// The two central concerns are the pipeline lifecycle (built, running, idle,
// failed, closed) and presentation-timestamp continuity: every pushed buffer
// is tagged from a shared atomic counter that advances by exactly the
// buffer's duration, so frames line up back-to-back even when silence filler
// is injected between bursts of real audio.
//
// This package lives under pkg/ because external code is expected to
// implement the stage interfaces and [Engine] to swap the processing backend.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/waveforge/internal/observe"
	"github.com/MrWong99/waveforge/internal/resilience"
	"github.com/MrWong99/waveforge/pkg/audio"
)

// defaultPullTimeout bounds a single sink pull so the consumer goroutine
// re-checks the stop flag periodically instead of blocking indefinitely.
const defaultPullTimeout = 100 * time.Millisecond

// State is the lifecycle state of a [Pipeline].
type State int32

const (
	// StateBuilt means the stages are created and linked but the pipeline has
	// never run.
	StateBuilt State = iota

	// StateRunning means the pipeline is accepting PCM and producing units.
	StateRunning

	// StateIdle means the pipeline has been stopped and may be started again.
	StateIdle

	// StateFailed means the consumer gave up after persistent sink failures.
	// A failed pipeline cannot be restarted.
	StateFailed

	// StateClosed means Close released all stage resources.
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateRunning:
		return "running"
	case StateIdle:
		return "idle"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Option configures a [Pipeline] at construction time.
type Option func(*Pipeline)

// WithEncoderConfig overrides the default encoder configuration
// ([DefaultEncoderConfig]).
func WithEncoderConfig(enc EncoderConfig) Option {
	return func(p *Pipeline) { p.encCfg = enc }
}

// WithPullTimeout overrides the bounded wait used for each sink pull. Shorter
// timeouts make Stop more responsive at the cost of more wakeups.
func WithPullTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.pullTimeout = d
		}
	}
}

// WithErrorHandler registers h to be invoked once if the pipeline fails
// terminally (persistent sink pull failures). h is called on the consumer
// goroutine and must not block.
func WithErrorHandler(h func(error)) Option {
	return func(p *Pipeline) { p.onError = h }
}

// Pipeline owns the four processing stages and the presentation-timestamp
// counter. Producer-side calls (PushPCM, PushSilence) may come from any
// number of goroutines; Start, Stop, and Close must be serialised by the
// caller.
type Pipeline struct {
	cfg         StreamConfig
	encCfg      EncoderConfig
	pullTimeout time.Duration
	onError     func(error)

	source    Source
	converter Converter
	encoder   Encoder
	sink      Sink

	// pts is the running presentation timestamp in nanoseconds. Pushes tag
	// their buffer with the pre-increment value and advance it by the
	// buffer's duration with a single fetch-and-add.
	pts atomic.Int64

	state    atomic.Int32
	stopping atomic.Bool
	failed   atomic.Bool

	deliver func([]byte)

	pumpDone     chan struct{}
	consumerDone chan struct{}

	closeOnce sync.Once

	breaker *resilience.Breaker
	met     *observe.Metrics
	ctx     context.Context
}

// New builds the four stages from eng, links them, and returns a pipeline in
// the built state. The zero values of cfg fall back to the package defaults
// (32 kHz, mono, 16-bit, S16LE). A stage construction failure is returned as
// a [*BuildError] and no resources are retained.
func New(cfg StreamConfig, eng Engine, opts ...Option) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:         cfg,
		encCfg:      DefaultEncoderConfig(),
		pullTimeout: defaultPullTimeout,
		met:         observe.DefaultMetrics(),
		ctx:         context.Background(),
	}
	for _, o := range opts {
		o(p)
	}
	p.encCfg = p.encCfg.withDefaults()
	p.breaker = resilience.NewBreaker(resilience.BreakerConfig{
		Name: "transcode-sink-pull",
	})

	var err error
	if p.source, err = eng.NewSource(cfg); err != nil {
		return nil, &BuildError{Stage: "source", Err: err}
	}
	if p.converter, err = eng.NewConverter(cfg); err != nil {
		return nil, &BuildError{Stage: "converter", Err: err}
	}
	if p.encoder, err = eng.NewEncoder(cfg, p.encCfg); err != nil {
		return nil, &BuildError{Stage: "encoder", Err: err}
	}
	if p.sink, err = eng.NewSink(); err != nil {
		return nil, &BuildError{Stage: "sink", Err: err}
	}

	p.state.Store(int32(StateBuilt))
	return p, nil
}

// Config returns the immutable stream configuration.
func (p *Pipeline) Config() StreamConfig { return p.cfg }

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// PTS returns the current value of the presentation-timestamp counter, i.e.
// the total duration of audio pushed so far.
func (p *Pipeline) PTS() time.Duration { return time.Duration(p.pts.Load()) }

// Start transitions the pipeline to running and launches the pump and
// consumer goroutines. deliver is invoked synchronously on the consumer
// goroutine, once per completed encoded unit, in arrival order; it receives a
// fresh buffer it may retain. Errors raised inside deliver are the caller's
// responsibility to contain.
//
// Start is only legal from the built or idle states; anything else returns a
// [*StateError].
func (p *Pipeline) Start(deliver func([]byte)) error {
	if deliver == nil {
		return fmt.Errorf("transcode: delivery callback must not be nil")
	}
	switch p.State() {
	case StateBuilt, StateIdle:
	default:
		return &StateError{From: p.State(), Op: "start"}
	}

	if err := p.source.Play(); err != nil {
		return &StateError{From: p.State(), Op: "start", Err: err}
	}

	p.deliver = deliver
	p.stopping.Store(false)
	p.failed.Store(false)
	p.breaker.Reset()
	p.pumpDone = make(chan struct{})
	p.consumerDone = make(chan struct{})
	p.state.Store(int32(StateRunning))
	p.met.ActivePipelines.Add(p.ctx, 1)

	go p.pump(p.pumpDone, p.source.Frames())
	go p.consume(p.consumerDone)

	slog.Info("transcode: pipeline running",
		"rate", p.cfg.SampleRate,
		"channels", p.cfg.Channels,
		"depth", p.cfg.BitDepth,
		"codec", p.encCfg.Codec,
	)
	return nil
}

// Stop stops the source, waits for the pump to drain, signals the consumer,
// and joins both goroutines before transitioning to idle. Units already
// encoded when Stop is called are still delivered; no delivery happens after
// Stop returns. Stop is safe to call when the pipeline was never started.
func (p *Pipeline) Stop() error {
	st := p.State()
	if st == StateClosed {
		return ErrClosed
	}

	// Unblock producers and end the pump's frame stream. Always performed,
	// even when the state transition below is a no-op, so that a caller can
	// use Stop as a join barrier.
	p.source.Stop()
	if p.pumpDone != nil {
		<-p.pumpDone
	}

	p.stopping.Store(true)
	if p.consumerDone != nil {
		<-p.consumerDone
	}

	// The CAS loses against a concurrent fail(), which already decremented
	// the gauge; only the winner may decrement.
	if st == StateRunning && p.state.CompareAndSwap(int32(StateRunning), int32(StateIdle)) {
		p.met.ActivePipelines.Add(p.ctx, -1)
		slog.Info("transcode: pipeline stopped", "pts", p.PTS())
	}
	return nil
}

// Close stops the pipeline if needed and releases all stage resources. It is
// safe to call Close on a pipeline that was never started, and safe to call
// more than once.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		_ = p.Stop()
		_ = p.sink.Close()
		p.state.Store(int32(StateClosed))
	})
	return nil
}

// PushPCM validates, timestamps, and forwards one buffer of raw PCM.
//
// An empty buffer is a no-op. A buffer whose length is not a multiple of the
// stream's sample size fails with a [*AlignmentError] and leaves the
// timestamp counter untouched. A rejection by the source stage (not running,
// stopped mid-push) fails with a [*PushError] carrying the stage diagnostic.
//
// The data is copied before hand-off; the caller may reuse its buffer as soon
// as PushPCM returns. PushPCM blocks while the source's internal buffer is
// full.
func (p *Pipeline) PushPCM(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	sampleSize := p.cfg.SampleSize()
	if len(data)%sampleSize != 0 {
		return &AlignmentError{Len: len(data), SampleSize: sampleSize}
	}
	if p.State() != StateRunning {
		return &PushError{Code: int(FlowFlushing), Name: FlowFlushing.String(), Err: ErrNotRunning}
	}

	duration := p.cfg.BufferDuration(len(data))

	// Fetch-and-add: the buffer is tagged with the counter's value before the
	// increment, so consecutive pushes are timestamped back-to-back with no
	// gaps or overlaps, regardless of which goroutine pushes.
	pts := time.Duration(p.pts.Add(int64(duration)) - int64(duration))

	buf := make([]byte, len(data))
	copy(buf, data)
	frame := audio.Frame{
		Data:       buf,
		SampleRate: p.cfg.SampleRate,
		Channels:   p.cfg.Channels,
		Timestamp:  pts,
		Duration:   duration,
	}

	start := time.Now()
	if err := p.source.Push(frame); err != nil {
		return newPushError(err)
	}
	p.met.PushWait.Record(p.ctx, time.Since(start).Seconds())
	p.met.PCMPushes.Add(p.ctx, 1)
	p.met.PCMBytes.Add(p.ctx, int64(len(data)))
	return nil
}

// PushSilence builds a zero-filled buffer covering d of audio in the stream
// format and forwards it through PushPCM. Producers use it to keep timestamp
// continuity alive across gaps in real audio without starving the encoder.
// Durations are truncated to whole milliseconds, matching the sample count
// rate×ms/1000.
func (p *Pipeline) PushSilence(d time.Duration) error {
	ms := d.Milliseconds()
	if ms <= 0 {
		return nil
	}
	samples := int(int64(p.cfg.SampleRate) * ms / 1000)
	if p.cfg.BitDepth == 16 {
		return p.PushPCM(audio.Silence(samples, p.cfg.Channels))
	}
	return p.PushPCM(make([]byte, samples*p.cfg.SampleSize()))
}

// pump drains the source's frame stream, normalises each frame, feeds it to
// the encoder, and offers completed units to the sink. When the stream ends
// (source stopped) it flushes the encoder's partial frame before exiting.
func (p *Pipeline) pump(done chan struct{}, frames <-chan audio.Frame) {
	defer close(done)

	for f := range frames {
		f = p.converter.Convert(f)
		if len(f.Data) == 0 {
			continue
		}
		start := time.Now()
		units, err := p.encoder.Encode(f)
		if err != nil {
			slog.Warn("transcode: encode failed, dropping frame",
				"err", err,
				"pts", f.Timestamp,
				"bytes", len(f.Data),
			)
			continue
		}
		p.met.EncodeDuration.Record(p.ctx, time.Since(start).Seconds())
		for _, u := range units {
			p.sink.Offer(u)
		}
	}

	units, err := p.encoder.Flush()
	if err != nil {
		slog.Warn("transcode: encoder flush failed", "err", err)
		return
	}
	for _, u := range units {
		p.sink.Offer(u)
	}
}

// consume pulls completed units from the sink with a bounded wait and hands
// each one to the delivery callback. Pull timeouts are "no data yet" and are
// retried; pull errors feed the breaker, and a tripped breaker is treated as
// a terminal stream failure.
func (p *Pipeline) consume(done chan struct{}) {
	defer close(done)

	for {
		var (
			u  Unit
			ok bool
		)
		err := p.breaker.Do(func() error {
			var pullErr error
			u, ok, pullErr = p.sink.Pull(p.pullTimeout)
			return pullErr
		})
		if err != nil {
			if errors.Is(err, resilience.ErrOpen) {
				p.fail(fmt.Errorf("transcode: persistent sink pull failures: %w", err))
				return
			}
			p.met.PullFailures.Add(p.ctx, 1)
			slog.Warn("transcode: sink pull failed", "err", err)
			continue
		}
		if !ok {
			p.met.PullTimeouts.Add(p.ctx, 1)
			if p.stopping.Load() {
				return
			}
			continue
		}

		buf := make([]byte, len(u.Bytes()))
		copy(buf, u.Bytes())
		p.deliver(buf)
		u.Release()

		p.met.UnitsDelivered.Add(p.ctx, 1)
		p.met.DeliveredBytes.Add(p.ctx, int64(len(buf)))
	}
}

// fail marks the pipeline terminally failed, unblocks the pump, and notifies
// the registered error handler exactly once.
func (p *Pipeline) fail(err error) {
	if !p.failed.CompareAndSwap(false, true) {
		return
	}
	p.state.Store(int32(StateFailed))
	_ = p.sink.Close()
	p.met.ActivePipelines.Add(p.ctx, -1)
	slog.Error("transcode: pipeline failed", "err", err)
	if p.onError != nil {
		p.onError(err)
	}
}
