package readingproc

import (
	"errors"
	"fmt"
	"time"

	"github.com/Paintersrp/readingproc/internal/metrics"
)

// IterOption configures a single IterRun call. Timeouts apply to that call
// only; a new call always starts with a fresh budget.
type IterOption func(*iterConfig)

type iterConfig struct {
	chunkTimeout    time.Duration
	hasChunkTimeout bool
	totalTimeout    time.Duration
	hasTotalTimeout bool
}

// ChunkTimeout bounds the wait for the next unit of output.
func ChunkTimeout(d time.Duration) IterOption {
	return func(c *iterConfig) {
		c.chunkTimeout = d
		c.hasChunkTimeout = true
	}
}

// TotalTimeout bounds the cumulative wait of the whole call, measured from
// IterRun. A zero or negative value trips before any blocking wait.
func TotalTimeout(d time.Duration) IterOption {
	return func(c *iterConfig) {
		c.totalTimeout = d
		c.hasTotalTimeout = true
	}
}

// Iterator drives one IterRun call over a single handle. Use it in the
// scanner idiom:
//
//	it, err := p.IterRun(readingproc.ChunkTimeout(5 * time.Second))
//	...
//	for it.Next() {
//		chunk := it.Chunk()
//	}
//	if err := it.Err(); err != nil { ... }
//
// A nil Err after Next returns false means the process exited and every
// queued chunk was delivered. ErrChunkTimeout and ErrTotalTimeout end the
// call but leave the relay and the process untouched: a subsequent IterRun
// resumes from the current state without losing data.
type Iterator struct {
	proc     *Proc
	relay    chan relayEvent
	cfg      iterConfig
	deadline time.Time

	cur  Chunk
	err  error
	done bool
}

// IterRun begins a new iteration over the handle's output. Chunks are
// yielded in the completion order of the underlying reads, interleaving
// stdout and stderr. It fails with ErrNotStarted before Start.
func (p *Proc) IterRun(opts ...IterOption) (*Iterator, error) {
	relay, started := p.startedRelay()
	if !started {
		return nil, fmt.Errorf("iter run: %w", ErrNotStarted)
	}
	var cfg iterConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	it := &Iterator{proc: p, relay: relay, cfg: cfg}
	if cfg.hasTotalTimeout {
		it.deadline = time.Now().Add(cfg.totalTimeout)
	}
	return it, nil
}

// Next advances to the next chunk. It returns false when the iteration
// ends; Err distinguishes normal termination from timeouts and stream
// failures.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	for {
		bound, bounded, expired := it.waitBound()
		if expired {
			it.fail(ErrTotalTimeout)
			return false
		}

		if !bounded {
			ev, ok := <-it.relay
			if !ok {
				it.done = true
				return false
			}
			if it.consume(ev) {
				return true
			}
			if it.err != nil {
				return false
			}
			continue
		}

		timer := time.NewTimer(bound)
		select {
		case ev, ok := <-it.relay:
			timer.Stop()
			if !ok {
				it.done = true
				return false
			}
			if it.consume(ev) {
				return true
			}
			if it.err != nil {
				return false
			}
		case <-timer.C:
			if it.cfg.hasTotalTimeout && !time.Now().Before(it.deadline) {
				it.fail(ErrTotalTimeout)
			} else {
				it.fail(ErrChunkTimeout)
			}
			return false
		}
	}
}

// waitBound computes the bound of the next wait step as the minimum of the
// chunk timeout and the remaining total budget.
func (it *Iterator) waitBound() (bound time.Duration, bounded, expired bool) {
	if it.cfg.hasChunkTimeout {
		bound = it.cfg.chunkTimeout
		bounded = true
	}
	if it.cfg.hasTotalTimeout {
		remain := time.Until(it.deadline)
		if remain <= 0 {
			return 0, false, true
		}
		if !bounded || remain < bound {
			bound = remain
			bounded = true
		}
	}
	return bound, bounded, false
}

// consume reports whether ev carries a chunk for the caller. End markers
// are skipped; a reader failure sets the terminal error for this call.
func (it *Iterator) consume(ev relayEvent) bool {
	switch {
	case ev.err != nil:
		it.err = &StreamError{Stream: ev.stream, Err: ev.err}
		return false
	case ev.eof:
		return false
	default:
		it.cur = ev.chunk
		return true
	}
}

func (it *Iterator) fail(sentinel error) {
	kind := "chunk"
	if errors.Is(sentinel, ErrTotalTimeout) {
		kind = "total"
	}
	metrics.IncTimeouts(kind)
	it.err = fmt.Errorf("pid %d: %w", it.proc.pid, sentinel)
}

// Chunk returns the chunk yielded by the last successful Next.
func (it *Iterator) Chunk() Chunk { return it.cur }

// Err returns the error that ended the iteration, or nil after a normal
// end-of-output termination.
func (it *Iterator) Err() error { return it.err }
