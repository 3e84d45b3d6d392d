package app

import (
	"context"
	"sync"

	"github.com/hylla/tavla/internal/domain"
)

// memoryViewStates keeps filter states for the life of the process.
type memoryViewStates struct {
	mu     sync.Mutex
	states map[string]domain.FilterState
}

func newMemoryViewStates() *memoryViewStates {
	return &memoryViewStates{states: map[string]domain.FilterState{}}
}

func (m *memoryViewStates) GetFilterState(_ context.Context, scope domain.Scope) (domain.FilterState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.states[scope.Key()]
	if !ok {
		return domain.FilterState{}, false, nil
	}
	return fs.Clone(), true, nil
}

func (m *memoryViewStates) SaveFilterState(_ context.Context, scope domain.Scope, fs domain.FilterState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[scope.Key()] = fs.Clone()
	return nil
}
