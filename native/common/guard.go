package common

import (
	"errors"
	"sort"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is an in-memory PauseView toggled by operators at runtime.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]struct{}
}

// NewPauseSet returns a pause set with the provided modules already paused.
func NewPauseSet(modules ...string) *PauseSet {
	set := &PauseSet{paused: make(map[string]struct{})}
	for _, module := range modules {
		if module != "" {
			set.paused[module] = struct{}{}
		}
	}
	return set
}

// IsPaused implements PauseView.
func (s *PauseSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.paused[module]
	return ok
}

// Pause marks the module as paused.
func (s *PauseSet) Pause(module string) {
	if s == nil || module == "" {
		return
	}
	s.mu.Lock()
	if s.paused == nil {
		s.paused = make(map[string]struct{})
	}
	s.paused[module] = struct{}{}
	s.mu.Unlock()
}

// Resume clears the paused flag for the module.
func (s *PauseSet) Resume(module string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.paused, module)
	s.mu.Unlock()
}

// Modules lists the paused modules in lexical order.
func (s *PauseSet) Modules() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := make([]string, 0, len(s.paused))
	for module := range s.paused {
		out = append(out, module)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
