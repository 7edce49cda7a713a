package sessionbus

import (
	"context"
	"sync"
)

// Memory delivers events synchronously within one process.
type Memory struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]func(Event)
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]func(Event))}
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.RLock()
	fns := make([]func(Event), 0, len(m.subs[ev.UserID]))
	for _, fn := range m.subs[ev.UserID] {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, userID string, fn func(Event)) (func(), error) {
	m.mu.Lock()
	id := m.next
	m.next++
	if m.subs[userID] == nil {
		m.subs[userID] = make(map[int]func(Event))
	}
	m.subs[userID][id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[userID], id)
			if len(m.subs[userID]) == 0 {
				delete(m.subs, userID)
			}
			m.mu.Unlock()
		})
	}, nil
}
