package storage

import (
	"context"
	"sync"
)

// state is the serializable persisted state.  The JSON keys are compatible
// with the ones used by the browser extension storage.
type state struct {
	Rules        *string `json:"adBlockerRules,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty"`
	Day          string  `json:"day,omitempty"`
	BlockedToday uint64  `json:"blockedToday"`
	TotalBlocked uint64  `json:"totalBlocked"`
}

// Memory is an in-memory [Interface] implementation.
type Memory struct {
	// mu protects st.
	mu *sync.Mutex

	// st is the current state.
	st *state

	// flush, if not nil, is called with the new state on every change.  If
	// it returns an error, the change is rolled back.
	flush func(st *state) (err error)
}

// NewMemory returns a new empty in-memory storage.
func NewMemory() (m *Memory) {
	return &Memory{
		mu: &sync.Mutex{},
		st: &state{},
	}
}

// type check
var _ Interface = (*Memory)(nil)

// RuleConfig implements the [Interface] interface for *Memory.
func (m *Memory) RuleConfig(_ context.Context) (data []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.Rules == nil {
		return nil, nil
	}

	return []byte(*m.st.Rules), nil
}

// SetRuleConfig implements the [Interface] interface for *Memory.
func (m *Memory) SetRuleConfig(_ context.Context, data []byte) (err error) {
	text := string(data)

	return m.update(func(st *state) { st.Rules = &text })
}

// Counters implements the [Interface] interface for *Memory.
func (m *Memory) Counters(_ context.Context) (c Counters, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Counters{
		Day:          m.st.Day,
		BlockedToday: m.st.BlockedToday,
		TotalBlocked: m.st.TotalBlocked,
	}, nil
}

// SetCounters implements the [Interface] interface for *Memory.
func (m *Memory) SetCounters(_ context.Context, c Counters) (err error) {
	return m.update(func(st *state) {
		st.Day = c.Day
		st.BlockedToday = c.BlockedToday
		st.TotalBlocked = c.TotalBlocked
	})
}

// Enabled implements the [Interface] interface for *Memory.
func (m *Memory) Enabled(_ context.Context) (enabled bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.Enabled == nil {
		return true, nil
	}

	return *m.st.Enabled, nil
}

// SetEnabled implements the [Interface] interface for *Memory.
func (m *Memory) SetEnabled(_ context.Context, enabled bool) (err error) {
	return m.update(func(st *state) { st.Enabled = &enabled })
}

// update applies fn to a copy of the current state and, if flushing it
// succeeds, makes it current.
func (m *Memory) update(fn func(st *state)) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *m.st
	fn(&next)

	if m.flush != nil {
		err = m.flush(&next)
		if err != nil {
			return err
		}
	}

	m.st = &next

	return nil
}
