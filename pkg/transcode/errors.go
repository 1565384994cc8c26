package transcode

import (
	"errors"
	"fmt"
)

// ErrNotRunning is wrapped by [*PushError] when a buffer is pushed into a
// pipeline that has not been started, has been stopped, or has failed.
var ErrNotRunning = errors.New("pipeline is not running")

// ErrClosed is returned by operations on a pipeline after Close.
var ErrClosed = errors.New("pipeline is closed")

// FlowCode classifies why a source stage rejected a push.
type FlowCode int

const (
	// FlowFlushing means the stage is not in the playing state.
	FlowFlushing FlowCode = iota + 1

	// FlowEOS means the stage has already seen end-of-stream.
	FlowEOS

	// FlowInternal means the stage failed internally.
	FlowInternal
)

// String returns the human-readable name of the flow code.
func (c FlowCode) String() string {
	switch c {
	case FlowFlushing:
		return "flushing"
	case FlowEOS:
		return "eos"
	case FlowInternal:
		return "error"
	default:
		return "unknown"
	}
}

// FlowError is the diagnostic a [Source] returns when it rejects a push.
type FlowError struct {
	Code FlowCode
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("flow %s (code %d)", e.Code, int(e.Code))
}

// BuildError is returned by [New] when a stage cannot be created or linked.
// The pipeline is unusable; discard it.
type BuildError struct {
	// Stage names the stage that failed ("source", "converter", "encoder",
	// "sink").
	Stage string

	// Err is the stage constructor's error.
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("transcode: build %s stage: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// StateError is returned by Start or Stop when the requested lifecycle
// transition is not legal from the pipeline's current state.
type StateError struct {
	// From is the state the pipeline was in when the transition was refused.
	From State

	// Op is the refused operation ("start", "stop").
	Op string

	// Err is the underlying engine error, if the engine refused the
	// transition; nil when the controller itself rejected it.
	Err error
}

func (e *StateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcode: %s from state %s: %v", e.Op, e.From, e.Err)
	}
	return fmt.Sprintf("transcode: %s is not legal from state %s", e.Op, e.From)
}

func (e *StateError) Unwrap() error { return e.Err }

// AlignmentError is returned by PushPCM when the buffer length is not a whole
// multiple of the stream's sample size. The caller must fix its input framing;
// the pipeline and the timestamp counter are unchanged.
type AlignmentError struct {
	// Len is the rejected buffer length in bytes.
	Len int

	// SampleSize is the fixed sample size of the stream in bytes.
	SampleSize int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("transcode: PCM buffer of %d bytes is not aligned to the %d-byte sample size", e.Len, e.SampleSize)
}

// PushError is returned by PushPCM when the source stage rejects a buffer
// that passed validation. It carries the collaborator's diagnostic code and
// name. The stream may still be usable; the caller decides whether to retry
// or abort.
type PushError struct {
	// Code is the source's numeric diagnostic code.
	Code int

	// Name is the source's human-readable diagnostic name.
	Name string

	// Err is the source's error.
	Err error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("transcode: source rejected buffer: %s (code %d): %v", e.Name, e.Code, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// newPushError wraps a source rejection, extracting the flow diagnostic when
// one is present.
func newPushError(err error) *PushError {
	pe := &PushError{Err: err}
	var fe *FlowError
	if errors.As(err, &fe) {
		pe.Code = int(fe.Code)
		pe.Name = fe.Code.String()
	} else {
		pe.Name = "error"
	}
	return pe
}
