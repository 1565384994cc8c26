package transcode

import (
	"sync"
	"time"
)

// sinkQueueUnits is the capacity of the queue sink. The pump blocks once this
// many units are waiting for the consumer, which in turn backpressures the
// source.
const sinkQueueUnits = 256

// queueSink is the default [Sink]: a bounded unit queue with bounded-wait
// pulls. It is deliberately not synchronised to the wall clock; units are
// pulled as fast as they are produced.
type queueSink struct {
	units chan Unit

	closeOnce sync.Once
	closed    chan struct{}
}

// NewQueueSink returns the default queue-backed sink stage.
func NewQueueSink() Sink {
	return &queueSink{
		units:  make(chan Unit, sinkQueueUnits),
		closed: make(chan struct{}),
	}
}

func (s *queueSink) Offer(u Unit) {
	select {
	case s.units <- u:
	case <-s.closed:
		u.Release()
	}
}

func (s *queueSink) Pull(timeout time.Duration) (Unit, bool, error) {
	// Drain queued units even after Close so a stopping pipeline can deliver
	// what was already encoded.
	select {
	case u := <-s.units:
		return u, true, nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case u := <-s.units:
		return u, true, nil
	case <-t.C:
		return nil, false, nil
	case <-s.closed:
		return nil, false, nil
	}
}

func (s *queueSink) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
