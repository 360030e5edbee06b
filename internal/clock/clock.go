package clock

import "time"

// Clock abstracts time lookups so time-dependent services (attempt guard,
// geo cache, analytics date keys) can be tested without sleeping.
type Clock interface {
	Now() time.Time
}

// Real returns the system time.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// Mock is a controllable clock for tests.
type Mock struct {
	current time.Time
}

func NewMock(t time.Time) *Mock {
	return &Mock{current: t}
}

func (m *Mock) Now() time.Time {
	return m.current
}

// Advance moves the clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.current = m.current.Add(d)
}
