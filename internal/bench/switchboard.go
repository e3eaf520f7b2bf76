package bench

import (
	"sort"
	"sync"
)

// Switchboard is an in-memory Toggler that tracks which handles are enabled.
// It is safe for concurrent use: resource handlers read it while the session
// goroutine applies batches.
type Switchboard struct {
	mu      sync.RWMutex
	enabled map[string]bool
}

// NewSwitchboard returns a switchboard with every handle disabled.
func NewSwitchboard() *Switchboard {
	return &Switchboard{enabled: make(map[string]bool)}
}

// Apply implements Toggler.
func (s *Switchboard) Apply(batch []Toggle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range batch {
		if t.Enable {
			s.enabled[t.Name] = true
		} else {
			delete(s.enabled, t.Name)
		}
	}
}

// Enabled reports whether name is currently enabled.
func (s *Switchboard) Enabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled[name]
}

// List returns enabled handles, sorted.
func (s *Switchboard) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.enabled))
	for name := range s.enabled {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
