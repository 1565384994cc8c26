package transcode

import (
	"sync"

	"github.com/MrWong99/waveforge/pkg/audio"
)

// sourceBufferFrames is the capacity of the buffered source's frame channel.
// Producers block once this many frames are queued ahead of the pump.
const sourceBufferFrames = 64

// bufferedSource is the default [Source]: a bounded frame channel with
// live/blocking push semantics. A full buffer blocks the producer instead of
// dropping data; Stop unblocks pending pushes and rejects later ones with
// [FlowFlushing].
type bufferedSource struct {
	mu      sync.Mutex
	playing bool
	frames  chan audio.Frame
	stopped chan struct{}

	// inflight tracks pushes that passed the playing check but have not yet
	// settled; Stop waits for them before closing the frame channel.
	inflight sync.WaitGroup
}

// NewBufferedSource returns the default channel-backed source stage.
func NewBufferedSource() Source {
	return &bufferedSource{}
}

func (s *bufferedSource) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		return nil
	}
	s.frames = make(chan audio.Frame, sourceBufferFrames)
	s.stopped = make(chan struct{})
	s.playing = true
	return nil
}

func (s *bufferedSource) Frames() <-chan audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *bufferedSource) Push(f audio.Frame) error {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return &FlowError{Code: FlowFlushing}
	}
	frames, stopped := s.frames, s.stopped
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case frames <- f:
		return nil
	case <-stopped:
		return &FlowError{Code: FlowFlushing}
	}
}

func (s *bufferedSource) Stop() error {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return nil
	}
	s.playing = false
	close(s.stopped)
	frames := s.frames
	s.mu.Unlock()

	// Wait for in-flight pushes to settle before closing the channel the
	// pump is draining.
	s.inflight.Wait()
	close(frames)
	return nil
}
