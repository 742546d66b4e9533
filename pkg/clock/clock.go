package clock

import (
	"sync"
	"time"
)

// Clock lets the queue state machine run against a controllable time source.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// MockClock is a manually advanced clock for deterministic tests.
type MockClock struct {
	mtx     sync.Mutex
	current time.Time
}

func NewMock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

func (m *MockClock) Now() time.Time {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.current
}

func (m *MockClock) Advance(d time.Duration) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.current = m.current.Add(d)
}
