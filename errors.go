package readingproc

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted indicates an operation that requires a live process was
	// invoked before Start.
	ErrNotStarted = errors.New("process not started")
	// ErrAlreadyStarted indicates Start was called on a handle that already
	// spawned its process.
	ErrAlreadyStarted = errors.New("process already started")
	// ErrChunkTimeout indicates no output arrived within the per-chunk wait
	// bound. The iteration can be resumed with a fresh IterRun call.
	ErrChunkTimeout = errors.New("chunk timeout expired")
	// ErrTotalTimeout indicates the cumulative wait budget of one IterRun
	// call was exhausted. Same resumability contract as ErrChunkTimeout.
	ErrTotalTimeout = errors.New("total timeout expired")
	// ErrProcEnded indicates the process has exited and its relayed output
	// has been fully drained.
	ErrProcEnded = errors.New("process ended")
	// ErrNotInSet indicates the handle is not a member of the reading set.
	ErrNotInSet = errors.New("proc is not a member of the reading set")
	// ErrStdinQueueFull indicates the stdin manager's message queue is at
	// capacity.
	ErrStdinQueueFull = errors.New("stdin queue full")
	// ErrManagerStarted indicates the stdin manager is already running.
	ErrManagerStarted = errors.New("stdin manager already started")
	// ErrManagerStopped indicates the stdin manager is not running.
	ErrManagerStopped = errors.New("stdin manager not running")
)

// StreamError reports a terminal read failure on one of the child's output
// streams. The failure is surfaced once; the other stream keeps relaying
// independently.
type StreamError struct {
	Stream string
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Stream, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
