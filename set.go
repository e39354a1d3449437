package readingproc

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ReadingSet aggregates multiple handles so their output can be consumed as
// one iteration stream. Membership is keyed by handle identity, not by the
// command a handle was constructed with: the same *Proc appears at most
// once, and removal is by reference.
//
// Removing a member stops relaying its output but leaves its process
// running; use Terminate, Kill or TerminateAll to end processes.
type ReadingSet struct {
	mu    sync.Mutex
	procs map[*Proc]struct{}
	iter  *SetIterator
}

// NewReadingSet constructs a set holding the given handles.
func NewReadingSet(procs ...*Proc) *ReadingSet {
	s := &ReadingSet{procs: make(map[*Proc]struct{}, len(procs))}
	for _, p := range procs {
		if p != nil {
			s.procs[p] = struct{}{}
		}
	}
	return s
}

// Add enrolls a handle. Adding during an active iteration includes the
// handle in the multiplexed stream from this point on, provided it has
// been started.
func (s *ReadingSet) Add(p *Proc) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.procs[p]; ok {
		return
	}
	s.procs[p] = struct{}{}
	if s.iter != nil {
		s.iter.attach(p, time.Now())
	}
}

// Remove drops a handle from the set. During an active iteration its
// output stops being yielded; the underlying process is not touched.
func (s *ReadingSet) Remove(p *Proc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.procs[p]; !ok {
		return
	}
	delete(s.procs, p)
	if s.iter != nil {
		s.iter.detach(p)
	}
}

// Rejoin reactivates a member that the current iteration deactivated after
// a timeout event or after its process ended, resetting its timeout
// bookkeeping. It fails with ErrNotInSet for handles that are not members.
func (s *ReadingSet) Rejoin(p *Proc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.procs[p]; !ok {
		return fmt.Errorf("rejoin: %w", ErrNotInSet)
	}
	if s.iter != nil {
		s.iter.attach(p, time.Now())
	}
	return nil
}

// Contains reports whether p is a member.
func (s *ReadingSet) Contains(p *Proc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[p]
	return ok
}

// Len returns the number of members.
func (s *ReadingSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Procs returns a snapshot of the members in no particular order.
func (s *ReadingSet) Procs() []*Proc {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Proc, 0, len(s.procs))
	for p := range s.procs {
		out = append(out, p)
	}
	return out
}

// Union returns a new set holding the members of both sets.
func (s *ReadingSet) Union(other *ReadingSet) *ReadingSet {
	out := NewReadingSet(s.Procs()...)
	if other != nil {
		for _, p := range other.Procs() {
			out.procs[p] = struct{}{}
		}
	}
	return out
}

// Intersect returns a new set holding the members present in both sets.
func (s *ReadingSet) Intersect(other *ReadingSet) *ReadingSet {
	out := NewReadingSet()
	if other == nil {
		return out
	}
	for _, p := range s.Procs() {
		if other.Contains(p) {
			out.procs[p] = struct{}{}
		}
	}
	return out
}

// Difference returns a new set holding this set's members that are not in
// other.
func (s *ReadingSet) Difference(other *ReadingSet) *ReadingSet {
	out := NewReadingSet()
	for _, p := range s.Procs() {
		if other == nil || !other.Contains(p) {
			out.procs[p] = struct{}{}
		}
	}
	return out
}

// AliveProcs returns a new set holding the members whose processes are
// currently alive.
func (s *ReadingSet) AliveProcs() *ReadingSet {
	out := NewReadingSet()
	for _, p := range s.Procs() {
		if p.Alive() {
			out.procs[p] = struct{}{}
		}
	}
	return out
}

// DeadProcs returns a new set holding the members whose processes are not
// alive.
func (s *ReadingSet) DeadProcs() *ReadingSet {
	out := NewReadingSet()
	for _, p := range s.Procs() {
		if !p.Alive() {
			out.procs[p] = struct{}{}
		}
	}
	return out
}

// StartAll starts every member that has not been started yet. Members that
// are already running are left untouched.
func (s *ReadingSet) StartAll() error {
	var errs []error
	for _, p := range s.Procs() {
		if err := p.Start(); err != nil && !errors.Is(err, ErrAlreadyStarted) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TerminateAll requests a graceful shutdown of every live member. Best
// effort: it does not block for exit confirmation.
func (s *ReadingSet) TerminateAll() error {
	return s.signalAll((*Proc).Terminate)
}

// KillAll requests an immediate shutdown of every live member under the
// same best-effort contract as TerminateAll.
func (s *ReadingSet) KillAll() error {
	return s.signalAll((*Proc).Kill)
}

func (s *ReadingSet) signalAll(sig func(*Proc) error) error {
	var errs []error
	for _, p := range s.Procs() {
		if err := sig(p); err != nil && !errors.Is(err, ErrNotStarted) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
