// Package quota enforces per-provider call budgets over fixed windows and
// holds the credentials providers authenticate with.
package quota

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Limit is one provider's budget: Calls per Window. A zero Calls value
// means the provider is not limited.
type Limit struct {
	Calls  int
	Window time.Duration
}

// Decision is the outcome of a reservation attempt. When Allowed is false
// the caller must not make the outbound call; ResetAt says when the window
// rolls over.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type windowState struct {
	start time.Time
	used  int
}

// Manager tracks call usage per provider. Reservations are atomic with
// respect to concurrent callers: a window with limit K admits exactly K
// reservations no matter how many goroutines race for them.
type Manager struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	limits map[string]Limit
	states map[string]*windowState
}

// NewManager builds a manager for the given per-provider limits. A nil
// clock falls back to the wall clock.
func NewManager(limits map[string]Limit, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		clock:  clock,
		limits: limits,
		states: make(map[string]*windowState),
	}
}

// Reserve consumes one call from the provider's current window, or reports
// that the budget is spent. The returned usage count never exceeds the
// limit within a window.
func (m *Manager) Reserve(provider string) Decision {
	limit, ok := m.limits[provider]
	if !ok || limit.Calls <= 0 || limit.Window <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	st, ok := m.states[provider]
	if !ok {
		st = &windowState{start: now}
		m.states[provider] = st
	}

	// Fixed window: usage resets in one step at the boundary.
	if !now.Before(st.start.Add(limit.Window)) {
		st.start = now
		st.used = 0
	}

	resetAt := st.start.Add(limit.Window)
	if st.used >= limit.Calls {
		return Decision{
			Allowed:   false,
			Limit:     limit.Calls,
			Remaining: 0,
			ResetAt:   resetAt,
		}
	}

	st.used++
	return Decision{
		Allowed:   true,
		Limit:     limit.Calls,
		Remaining: limit.Calls - st.used,
		ResetAt:   resetAt,
	}
}

// Usage reports the current window's consumption without reserving.
func (m *Manager) Usage(provider string) (used, limit int, resetAt time.Time) {
	lim, ok := m.limits[provider]
	if !ok || lim.Calls <= 0 || lim.Window <= 0 {
		return 0, 0, time.Time{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[provider]
	if !ok {
		return 0, lim.Calls, time.Time{}
	}
	now := m.clock.Now()
	if !now.Before(st.start.Add(lim.Window)) {
		return 0, lim.Calls, time.Time{}
	}
	return st.used, lim.Calls, st.start.Add(lim.Window)
}
