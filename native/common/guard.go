package common

import (
	"errors"
	"fmt"
	"sort"
	"strings"
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
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}

// GuardAny fails when any of the scopes is paused. Scopes are checked in order
// so the broadest pause is reported first.
func GuardAny(p PauseView, scopes ...string) error {
	for _, scope := range scopes {
		if err := Guard(p, scope); err != nil {
			return err
		}
	}
	return nil
}

// PauseSet is an in-memory PauseView toggled by operators.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

func NewPauseSet(scopes ...string) *PauseSet {
	s := &PauseSet{paused: make(map[string]bool)}
	for _, scope := range scopes {
		s.Set(scope, true)
	}
	return s
}

func normalizeScope(scope string) string {
	return strings.Trim(strings.TrimSpace(scope), "/")
}

// Set pauses or resumes scope.
func (s *PauseSet) Set(scope string, paused bool) {
	scope = normalizeScope(scope)
	if scope == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[scope] = true
		return
	}
	delete(s.paused, scope)
}

func (s *PauseSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[normalizeScope(module)]
}

// Paused lists the currently paused scopes in lexical order.
func (s *PauseSet) Paused() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.paused))
	for scope := range s.paused {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}
