package syncer

import (
	"sort"
	"strings"
	"sync"
)

// RunState is the bookkeeping of one sync run. It lives only as long as the
// run (or daemon process) that created it and is never persisted.
type RunState struct {
	mu        sync.RWMutex
	suspended map[string]string
}

// NewRunState creates an empty run state.
func NewRunState() *RunState {
	return &RunState{suspended: make(map[string]string)}
}

// MarkSuspended records that the remote source reported symbol as suspended
// or delisted. reason is the remote status text.
func (s *RunState) MarkSuspended(symbol, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended[strings.ToUpper(symbol)] = reason
}

// IsSuspended reports whether symbol was marked suspended in this run.
func (s *RunState) IsSuspended(symbol string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.suspended[strings.ToUpper(symbol)]
	return ok
}

// Reason returns the recorded suspension status for symbol.
func (s *RunState) Reason(symbol string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspended[strings.ToUpper(symbol)]
}

// Suspended returns the suspended symbols in sorted order.
func (s *RunState) Suspended() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.suspended))
	for symbol := range s.suspended {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// keyedMutex hands out one lock per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
