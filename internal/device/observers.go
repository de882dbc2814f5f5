package device

import (
	"sync"

	"pellet_dispenser/internal/models"
	"pellet_dispenser/internal/protocol"
)

// Cause says why a Change was published.
type Cause string

const (
	CauseEvent          Cause = "event"           // a parsed device line was applied
	CauseCommand        Cause = "command"         // a command was written to the device
	CauseConfig         Cause = "config"          // a local configuration setter ran
	CauseRefill         Cause = "refill"          // manual refill recorded locally
	CauseConnected      Cause = "connected"       // a session was opened
	CauseDisconnected   Cause = "disconnected"    // the session was closed by the caller
	CauseTransportError Cause = "transport_error" // the session died
)

// Change is delivered to observers after every mutation. State is the
// snapshot taken right after the mutation completed.
type Change struct {
	Cause   Cause
	Event   protocol.Event // set for CauseEvent and for start/stop commands
	Command string         // wire form without newline, for CauseCommand
	Err     error          // set for CauseTransportError
	State   models.DeviceState
}

// Observer receives changes synchronously. It must return quickly and must
// not call back into a mutating method.
type Observer func(Change)

type observerSet struct {
	mu   sync.RWMutex
	next int
	m    map[int]Observer
}

func (s *observerSet) add(fn Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[int]Observer)
	}
	id := s.next
	s.next++
	s.m[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.m, id)
		})
	}
}

func (s *observerSet) notify(ch Change) {
	s.mu.RLock()
	fns := make([]Observer, 0, len(s.m))
	for id := 0; id < s.next; id++ {
		if fn, ok := s.m[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(ch)
	}
}
