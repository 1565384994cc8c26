package transcode

import (
	"time"

	"github.com/MrWong99/waveforge/pkg/audio"
)

// Source is the pipeline entry point. It accepts externally supplied,
// timestamped PCM frames and hands them to the pipeline pump.
//
// Push must apply backpressure: when the source's internal buffer is full it
// blocks the caller rather than dropping data. A rejected push must return a
// [*FlowError] so the pipeline can report the collaborator's diagnostic code
// and name to the producer.
//
// Implementations must be safe for concurrent use: any number of producer
// goroutines may call Push while the pipeline pump consumes Frames.
type Source interface {
	// Push hands a timestamped frame to the source. It blocks while the
	// internal buffer is full and returns a [*FlowError] if the source is not
	// playing or is stopped mid-push.
	Push(f audio.Frame) error

	// Frames returns the channel the pipeline pump consumes. The channel is
	// (re)created by Play and closed by Stop after all in-flight pushes have
	// settled.
	Frames() <-chan audio.Frame

	// Play transitions the source to the playing state, allowing pushes.
	Play() error

	// Stop unblocks pending pushes, rejects further pushes, and closes the
	// frame channel. Safe to call when not playing.
	Stop() error
}

// Converter normalises incoming frames to the format the encoder stage
// expects. Implementations receive frames on the pipeline pump goroutine
// only, so they need not be safe for concurrent use.
type Converter interface {
	Convert(f audio.Frame) audio.Frame
}

// Encoder turns PCM frames into completed encoded units. Encoders typically
// buffer samples internally until a full codec frame is available, so a
// single Encode call may yield zero, one, or several units.
//
// Encode and Flush are called from the pipeline pump goroutine only.
type Encoder interface {
	// Encode consumes one PCM frame and returns any encoded units completed
	// by it.
	Encode(f audio.Frame) ([]Unit, error)

	// Flush drains internally buffered samples, padding the final codec frame
	// with silence if necessary, and returns the remaining units.
	Flush() ([]Unit, error)
}

// Unit is one completed encoder output buffer. The pipeline owns a unit from
// Offer until the consumer copies its bytes and calls Release; after Release
// the unit's bytes must not be touched again.
type Unit interface {
	// Bytes returns the encoded data. The slice is only valid until Release.
	Bytes() []byte

	// Timestamp returns the presentation time of the unit relative to stream
	// start.
	Timestamp() time.Duration

	// Release returns the unit's buffer to its owner. Calling Release more
	// than once is a no-op.
	Release()
}

// Sink is the pipeline exit point. The pump offers completed units and the
// consumer goroutine pulls them with a bounded wait so that stop requests
// are observed promptly.
//
// Offer and Pull run on different goroutines; implementations must be safe
// for that pairing.
type Sink interface {
	// Offer enqueues a completed unit. It may block while the queue is full
	// (propagating backpressure to the pump) but must return once the sink is
	// closed, discarding the unit.
	Offer(u Unit)

	// Pull returns the next completed unit in arrival order. When no unit
	// becomes available within timeout it returns ok == false and a nil
	// error; a non-nil error signals a sink failure, not an empty queue.
	Pull(timeout time.Duration) (u Unit, ok bool, err error)

	// Close unblocks any pending Offer and makes subsequent offers discard
	// their unit. Pull drains units already queued, then reports misses.
	Close() error
}

// Engine builds the four pipeline stages. The default implementation lives in
// pkg/transcode/engine; embedders supply their own Engine to swap the
// processing backend wholesale.
type Engine interface {
	NewSource(cfg StreamConfig) (Source, error)
	NewConverter(cfg StreamConfig) (Converter, error)
	NewEncoder(cfg StreamConfig, enc EncoderConfig) (Encoder, error)
	NewSink() (Sink, error)
}
