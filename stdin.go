package readingproc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// DefaultStdinQueueLength is the default capacity of a StdinManager's
// message queue.
const DefaultStdinQueueLength = 100

// StdinOption configures a StdinManager.
type StdinOption func(*StdinManager)

// StdinQueueLength sets the maximum number of undelivered messages the
// manager buffers before Send fails with ErrStdinQueueFull.
func StdinQueueLength(n int) StdinOption {
	return func(m *StdinManager) {
		if n > 0 {
			m.maxLen = n
		}
	}
}

// StdinLogger sets the structured logger used to report delivery failures.
// Output is discarded by default.
func StdinLogger(logger *slog.Logger) StdinOption {
	return func(m *StdinManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

type stdinMessage struct {
	proc *Proc
	data []byte
}

// StdinManager delivers stdin payloads to handles from a background
// worker, so callers never block on a slow or full stdin pipe. Several
// handles can share one manager. A delivery failure is logged and dropped;
// it does not stop the worker or affect the target handle.
type StdinManager struct {
	maxLen int
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	queue   chan stdinMessage
	stop    chan struct{}
	done    chan struct{}
}

// NewStdinManager constructs a manager. Call Start before Send.
func NewStdinManager(opts ...StdinOption) *StdinManager {
	m := &StdinManager{
		maxLen: DefaultStdinQueueLength,
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the delivery worker. It fails with ErrManagerStarted if
// the manager is already running.
func (m *StdinManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrManagerStarted
	}
	m.queue = make(chan stdinMessage, m.maxLen)
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true
	go m.run(m.queue, m.stop, m.done)
	return nil
}

// Alive reports whether the delivery worker is running.
func (m *StdinManager) Alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Send enqueues data for delivery to p's standard input. It never blocks:
// a full queue fails with ErrStdinQueueFull, leaving the caller to retry
// or drop.
func (m *StdinManager) Send(p *Proc, data []byte) error {
	m.mu.Lock()
	running, queue := m.running, m.queue
	m.mu.Unlock()
	if !running {
		return fmt.Errorf("send: %w", ErrManagerStopped)
	}
	select {
	case queue <- stdinMessage{proc: p, data: data}:
		return nil
	default:
		return fmt.Errorf("send: %w (max_len=%d)", ErrStdinQueueFull, m.maxLen)
	}
}

// QueueSize returns the number of messages waiting for delivery.
func (m *StdinManager) QueueSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queue == nil {
		return 0
	}
	return len(m.queue)
}

// Stop shuts the delivery worker down, waiting for it to finish up to the
// context's deadline. A stopped manager can be started again; messages
// still queued at stop time are discarded.
func (m *StdinManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrManagerStopped
	}
	m.running = false
	m.queue = nil
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *StdinManager) run(queue chan stdinMessage, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case msg := <-queue:
			if err := msg.proc.SendStdin(msg.data); err != nil {
				m.logger.Warn("stdin delivery failed", "err", err)
			}
		}
	}
}
