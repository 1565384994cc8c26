// Package mock provides in-memory mock implementations of the
// [transcode.Source], [transcode.Converter], [transcode.Encoder],
// [transcode.Sink], [transcode.Engine], and [transcode.Unit] interfaces for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values. Source and Sink are
// functional by default (a real frame channel, a real unit queue) so that a
// mock Engine can drive a full pipeline without extra wiring.
//
// Typical usage:
//
//	eng := &mock.Engine{
//	    SinkResult: &mock.Sink{PullError: errors.New("backend gone")},
//	}
//	p, err := transcode.New(cfg, eng)
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/waveforge/pkg/audio"
	"github.com/MrWong99/waveforge/pkg/transcode"
)

// ─── Unit ─────────────────────────────────────────────────────────────────────

// Unit is a mock implementation of [transcode.Unit].
type Unit struct {
	mu sync.Mutex

	// Data is returned by [Unit.Bytes].
	Data []byte

	// PTS is returned by [Unit.Timestamp].
	PTS time.Duration

	// CallCountRelease records how many times Release was called.
	CallCountRelease int
}

// Bytes implements [transcode.Unit]. Returns Data.
func (u *Unit) Bytes() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.Data
}

// Timestamp implements [transcode.Unit]. Returns PTS.
func (u *Unit) Timestamp() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.PTS
}

// Release implements [transcode.Unit]. Records the call.
func (u *Unit) Release() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.CallCountRelease++
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [transcode.Source]. It is functional by
// default: pushed frames appear on the channel returned by Frames, and Stop
// closes that channel. Set the error fields to inject failures.
type Source struct {
	mu sync.Mutex

	// PushError is returned by Push instead of forwarding the frame.
	PushError error

	// PlayError is returned by Play.
	PlayError error

	// StopError is returned by Stop; when set, the frame channel stays open.
	StopError error

	// PushCalls records every frame passed to Push.
	PushCalls []audio.Frame

	// CallCountPlay records how many times Play was called.
	CallCountPlay int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	frames    chan audio.Frame
	closeOnce sync.Once
}

// channel returns the frame channel, creating it on first use.
func (s *Source) channel() chan audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		s.frames = make(chan audio.Frame, 64)
	}
	return s.frames
}

// Push implements [transcode.Source]. Records the frame and forwards it to
// the frame channel unless PushError is set.
func (s *Source) Push(f audio.Frame) error {
	s.mu.Lock()
	s.PushCalls = append(s.PushCalls, f)
	err := s.PushError
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.channel() <- f
	return nil
}

// Frames implements [transcode.Source].
func (s *Source) Frames() <-chan audio.Frame {
	return s.channel()
}

// Play implements [transcode.Source]. Returns PlayError.
func (s *Source) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountPlay++
	return s.PlayError
}

// Stop implements [transcode.Source]. Closes the frame channel (once) and
// returns StopError.
func (s *Source) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	err := s.StopError
	s.mu.Unlock()
	if err != nil {
		return err
	}
	ch := s.channel()
	s.closeOnce.Do(func() { close(ch) })
	return nil
}

// ─── Converter ────────────────────────────────────────────────────────────────

// Converter is a mock implementation of [transcode.Converter]. By default it
// passes frames through unchanged.
type Converter struct {
	mu sync.Mutex

	// ConvertFunc, when set, replaces the identity behaviour.
	ConvertFunc func(f audio.Frame) audio.Frame

	// ConvertCalls records every frame passed to Convert.
	ConvertCalls []audio.Frame
}

// Convert implements [transcode.Converter]. Records the frame and returns
// ConvertFunc(f), or f unchanged when ConvertFunc is nil.
func (c *Converter) Convert(f audio.Frame) audio.Frame {
	c.mu.Lock()
	c.ConvertCalls = append(c.ConvertCalls, f)
	fn := c.ConvertFunc
	c.mu.Unlock()
	if fn != nil {
		return fn(f)
	}
	return f
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

// Encoder is a mock implementation of [transcode.Encoder]. By default every
// Encode call yields one unit carrying the frame's bytes and timestamp, which
// makes end-to-end pipeline tests deterministic.
type Encoder struct {
	mu sync.Mutex

	// EncodeFunc, when set, replaces the default one-unit-per-frame behaviour.
	EncodeFunc func(f audio.Frame) ([]transcode.Unit, error)

	// EncodeError is returned by Encode when EncodeFunc is nil.
	EncodeError error

	// FlushResult is returned by Flush.
	FlushResult []transcode.Unit

	// FlushError is returned by Flush.
	FlushError error

	// EncodeCalls records every frame passed to Encode.
	EncodeCalls []audio.Frame

	// CallCountFlush records how many times Flush was called.
	CallCountFlush int
}

// Encode implements [transcode.Encoder].
func (e *Encoder) Encode(f audio.Frame) ([]transcode.Unit, error) {
	e.mu.Lock()
	e.EncodeCalls = append(e.EncodeCalls, f)
	fn := e.EncodeFunc
	encErr := e.EncodeError
	e.mu.Unlock()

	if fn != nil {
		return fn(f)
	}
	if encErr != nil {
		return nil, encErr
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return []transcode.Unit{&Unit{Data: data, PTS: f.Timestamp}}, nil
}

// Flush implements [transcode.Encoder]. Returns FlushResult / FlushError.
func (e *Encoder) Flush() ([]transcode.Unit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountFlush++
	return e.FlushResult, e.FlushError
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [transcode.Sink]. It is functional by
// default: offered units can be pulled back in order. Set PullError to make
// every Pull fail (for breaker escalation tests).
type Sink struct {
	mu sync.Mutex

	// PullError, when set, is returned by every Pull call.
	PullError error

	// CallCountOffer records how many times Offer was called.
	CallCountOffer int

	// CallCountPull records how many times Pull was called.
	CallCountPull int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	queue  chan transcode.Unit
	closed chan struct{}
	once   sync.Once
}

func (s *Sink) init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		s.queue = make(chan transcode.Unit, 256)
		s.closed = make(chan struct{})
	}
}

// Offer implements [transcode.Sink]. Enqueues the unit, discarding it when
// the sink is closed.
func (s *Sink) Offer(u transcode.Unit) {
	s.init()
	s.mu.Lock()
	s.CallCountOffer++
	s.mu.Unlock()

	select {
	case <-s.closed:
		u.Release()
	case s.queue <- u:
	}
}

// Pull implements [transcode.Sink]. Returns the next queued unit, PullError
// when set, or a miss after the timeout.
func (s *Sink) Pull(timeout time.Duration) (transcode.Unit, bool, error) {
	s.init()
	s.mu.Lock()
	s.CallCountPull++
	pullErr := s.PullError
	s.mu.Unlock()

	if pullErr != nil {
		return nil, false, pullErr
	}

	select {
	case u := <-s.queue:
		return u, true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case u := <-s.queue:
		return u, true, nil
	case <-s.closed:
		return nil, false, nil
	case <-timer.C:
		return nil, false, nil
	}
}

// Close implements [transcode.Sink]. Unblocks pending offers and pulls.
func (s *Sink) Close() error {
	s.init()
	s.mu.Lock()
	s.CallCountClose++
	s.mu.Unlock()
	s.once.Do(func() { close(s.closed) })
	return nil
}

// ─── Engine ───────────────────────────────────────────────────────────────────

// Engine is a mock implementation of [transcode.Engine]. Unset Result fields
// default to fresh functional mocks, so a zero-value Engine can drive a full
// pipeline.
type Engine struct {
	mu sync.Mutex

	// SourceResult is returned by NewSource. Defaults to a new [Source].
	SourceResult transcode.Source

	// SourceError is returned by NewSource.
	SourceError error

	// ConverterResult is returned by NewConverter. Defaults to a new [Converter].
	ConverterResult transcode.Converter

	// ConverterError is returned by NewConverter.
	ConverterError error

	// EncoderResult is returned by NewEncoder. Defaults to a new [Encoder].
	EncoderResult transcode.Encoder

	// EncoderError is returned by NewEncoder.
	EncoderError error

	// SinkResult is returned by NewSink. Defaults to a new [Sink].
	SinkResult transcode.Sink

	// SinkError is returned by NewSink.
	SinkError error

	// NewSourceCalls records the config of every NewSource invocation.
	NewSourceCalls []transcode.StreamConfig

	// NewConverterCalls records the config of every NewConverter invocation.
	NewConverterCalls []transcode.StreamConfig

	// NewEncoderCalls records the encoder config of every NewEncoder invocation.
	NewEncoderCalls []transcode.EncoderConfig

	// CallCountNewSink records how many times NewSink was called.
	CallCountNewSink int
}

// NewSource implements [transcode.Engine].
func (e *Engine) NewSource(cfg transcode.StreamConfig) (transcode.Source, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSourceCalls = append(e.NewSourceCalls, cfg)
	if e.SourceError != nil {
		return nil, e.SourceError
	}
	if e.SourceResult == nil {
		e.SourceResult = &Source{}
	}
	return e.SourceResult, nil
}

// NewConverter implements [transcode.Engine].
func (e *Engine) NewConverter(cfg transcode.StreamConfig) (transcode.Converter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewConverterCalls = append(e.NewConverterCalls, cfg)
	if e.ConverterError != nil {
		return nil, e.ConverterError
	}
	if e.ConverterResult == nil {
		e.ConverterResult = &Converter{}
	}
	return e.ConverterResult, nil
}

// NewEncoder implements [transcode.Engine].
func (e *Engine) NewEncoder(cfg transcode.StreamConfig, enc transcode.EncoderConfig) (transcode.Encoder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewEncoderCalls = append(e.NewEncoderCalls, enc)
	if e.EncoderError != nil {
		return nil, e.EncoderError
	}
	if e.EncoderResult == nil {
		e.EncoderResult = &Encoder{}
	}
	return e.EncoderResult, nil
}

// NewSink implements [transcode.Engine].
func (e *Engine) NewSink() (transcode.Sink, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountNewSink++
	if e.SinkError != nil {
		return nil, e.SinkError
	}
	if e.SinkResult == nil {
		e.SinkResult = &Sink{}
	}
	return e.SinkResult, nil
}
