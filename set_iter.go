package readingproc

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/Paintersrp/readingproc/internal/metrics"
)

// Event is one item of a set iteration: a chunk of output tagged with its
// originating handle, or a flagged condition for that handle. Err carries
// ErrChunkTimeout or ErrTotalTimeout when the member stalled past its
// bound, ErrProcEnded when it exited and was fully drained, or a
// *StreamError for a reader failure. Chunk is empty whenever Err is set.
type Event struct {
	Proc  *Proc
	Chunk Chunk
	Err   error
}

// member tracks one active handle inside a set iteration. Guarded by the
// iterator's mutex.
type member struct {
	relay         chan relayEvent
	active        bool
	lastData      time.Time
	chunkTimeout  time.Duration
	hasChunk      bool
	totalDeadline time.Time
	hasTotal      bool
}

// SetIterator drives one IterRun call over a reading set. Unlike the
// single-handle iterator, a member timeout does not end the call: it is
// yielded as a flagged Event and the member is deactivated so a stalled
// process cannot flood the stream, letting the caller decide whether to
// Terminate it, Remove it or Rejoin it. Only the call-level total timeout
// ends the iteration with an error.
//
// A set supports one active iteration at a time; calling IterRun again
// supersedes the previous iterator.
type SetIterator struct {
	set      *ReadingSet
	cfg      iterConfig
	deadline time.Time

	mu      sync.Mutex
	members map[*Proc]*member
	wake    chan struct{}

	cur  Event
	err  error
	done bool
}

// IterRun begins a multiplexed iteration over every started member.
// ChunkTimeout and TotalTimeout set the per-member default bounds and the
// call budget; WithSetTimeouts on a handle overrides the per-member
// bounds. Handles that have not been started are ignored until they are
// re-added or rejoined after starting.
func (s *ReadingSet) IterRun(opts ...IterOption) *SetIterator {
	var cfg iterConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	it := &SetIterator{set: s, cfg: cfg, members: make(map[*Proc]*member)}
	now := time.Now()
	if cfg.hasTotalTimeout {
		it.deadline = now.Add(cfg.totalTimeout)
	}
	s.mu.Lock()
	s.iter = it
	for p := range s.procs {
		it.attach(p, now)
	}
	s.mu.Unlock()
	return it
}

// Next advances to the next event. It returns false when no active member
// remains (normal end, Err is nil) or when the call-level total budget is
// exhausted (Err is ErrTotalTimeout; a fresh IterRun resumes without
// losing queued data).
func (it *SetIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	for {
		now := time.Now()
		if it.cfg.hasTotalTimeout && !now.Before(it.deadline) {
			metrics.IncTimeouts("total")
			it.err = fmt.Errorf("reading set: %w", ErrTotalTimeout)
			return false
		}

		procs, cases, timer, staged := it.collect(now)
		if staged {
			// collect staged an event for an expired member
			return true
		}
		if len(procs) == 0 {
			it.done = true
			return false
		}

		chosen, recv, open := reflect.Select(cases)
		if timer != nil {
			timer.Stop()
		}
		if chosen >= len(procs) {
			// membership change or deadline tick: recompute and re-wait
			continue
		}
		p := procs[chosen]
		if !open {
			// relay closed: the member exited and its output is drained
			it.deactivate(p)
			it.cur = Event{Proc: p, Err: fmt.Errorf("pid %d: %w", p.pid, ErrProcEnded)}
			return true
		}
		if it.consume(p, recv.Interface().(relayEvent)) {
			return true
		}
	}
}

// collect builds the select cases over the active members' relay channels
// plus a wake channel (membership changes) and, when any deadline is
// pending, a timer. If a member's own deadline already expired it stages
// an event for that member instead and reports staged=true.
func (it *SetIterator) collect(now time.Time) (procs []*Proc, cases []reflect.SelectCase, timer *time.Timer, staged bool) {
	it.mu.Lock()
	if it.wake == nil {
		it.wake = make(chan struct{})
	}
	wake := it.wake

	var nextDeadline time.Time
	if it.cfg.hasTotalTimeout {
		nextDeadline = it.deadline
	}

	for p, m := range it.members {
		if !m.active {
			continue
		}
		if m.hasTotal && !now.Before(m.totalDeadline) {
			it.stageExpired(p, m, now, ErrTotalTimeout, "total")
			return nil, nil, nil, true
		}
		if m.hasChunk {
			chunkDeadline := m.lastData.Add(m.chunkTimeout)
			if !now.Before(chunkDeadline) {
				it.stageExpired(p, m, now, ErrChunkTimeout, "chunk")
				return nil, nil, nil, true
			}
			if nextDeadline.IsZero() || chunkDeadline.Before(nextDeadline) {
				nextDeadline = chunkDeadline
			}
		}
		if m.hasTotal && (nextDeadline.IsZero() || m.totalDeadline.Before(nextDeadline)) {
			nextDeadline = m.totalDeadline
		}
		procs = append(procs, p)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(m.relay)})
	}
	it.mu.Unlock()

	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(wake)})
	if !nextDeadline.IsZero() {
		timer = time.NewTimer(time.Until(nextDeadline))
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)})
	}
	return procs, cases, timer, false
}

// stageExpired decides what an expired deadline means for a member. A
// timeout reports the absence of output, so anything already queued in the
// relay is delivered first: data refreshes the member's clock and becomes
// the staged event, and only an empty relay flags the sentinel and
// deactivates the member. Called with it.mu held; releases it.
func (it *SetIterator) stageExpired(p *Proc, m *member, now time.Time, sentinel error, kind string) {
	for {
		select {
		case ev, ok := <-m.relay:
			switch {
			case !ok:
				m.active = false
				it.mu.Unlock()
				it.cur = Event{Proc: p, Err: fmt.Errorf("pid %d: %w", p.pid, ErrProcEnded)}
				return
			case ev.err != nil:
				it.mu.Unlock()
				it.cur = Event{Proc: p, Err: &StreamError{Stream: ev.stream, Err: ev.err}}
				return
			case ev.eof:
				// end marker, not data; keep draining
			default:
				m.lastData = now
				it.mu.Unlock()
				it.cur = Event{Proc: p, Chunk: ev.chunk}
				return
			}
		default:
			m.active = false
			it.mu.Unlock()
			metrics.IncTimeouts(kind)
			it.cur = Event{Proc: p, Err: fmt.Errorf("no output from pid %d: %w", p.pid, sentinel)}
			return
		}
	}
}

// consume reports whether ev produced an Event for the caller. End markers
// are skipped; data refreshes the member's chunk-timeout clock.
func (it *SetIterator) consume(p *Proc, ev relayEvent) bool {
	switch {
	case ev.err != nil:
		it.cur = Event{Proc: p, Err: &StreamError{Stream: ev.stream, Err: ev.err}}
		return true
	case ev.eof:
		return false
	default:
		it.mu.Lock()
		if m := it.members[p]; m != nil {
			m.lastData = time.Now()
		}
		it.mu.Unlock()
		it.cur = Event{Proc: p, Chunk: ev.chunk}
		return true
	}
}

// attach activates a member, resetting its timeout bookkeeping. Safe to
// call for handles that are already active (no-op) or not yet started
// (ignored).
func (it *SetIterator) attach(p *Proc, now time.Time) {
	relay, started := p.startedRelay()
	if !started {
		return
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if m, ok := it.members[p]; ok && m.active {
		return
	}
	m := &member{relay: relay, active: true, lastData: now}
	switch {
	case p.setChunkTimeout > 0:
		m.chunkTimeout, m.hasChunk = p.setChunkTimeout, true
	case it.cfg.hasChunkTimeout:
		m.chunkTimeout, m.hasChunk = it.cfg.chunkTimeout, true
	}
	if p.setTotalTimeout > 0 {
		m.totalDeadline, m.hasTotal = now.Add(p.setTotalTimeout), true
	}
	it.members[p] = m
	it.wakeLocked()
}

func (it *SetIterator) detach(p *Proc) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if m := it.members[p]; m != nil {
		m.active = false
	}
	it.wakeLocked()
}

func (it *SetIterator) deactivate(p *Proc) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if m := it.members[p]; m != nil {
		m.active = false
	}
}

// wakeLocked interrupts a blocked Next so it re-reads membership. Caller
// holds it.mu.
func (it *SetIterator) wakeLocked() {
	if it.wake != nil {
		close(it.wake)
		it.wake = nil
	}
}

// Event returns the event yielded by the last successful Next.
func (it *SetIterator) Event() Event { return it.cur }

// Err returns the error that ended the iteration, or nil when every member
// ended or was deactivated.
func (it *SetIterator) Err() error { return it.err }
