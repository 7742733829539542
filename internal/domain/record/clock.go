package record

import (
	"sync"
	"time"
)

// Clock — монотонные часы для createdAt.
// Значения усечены до микросекунд (точность PostgreSQL timestamptz)
// и строго возрастают в пределах процесса.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock создаёт часы на основе time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now возвращает следующее значение: текущее время UTC
// или last+1µs, если системные часы не ушли вперёд.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
