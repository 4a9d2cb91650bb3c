package chat

import (
	"sync"
	"time"
)

var nowFunc = time.Now // mockable

// roomClock hands out creation timestamps that strictly increase within each room,
// at the millisecond precision every storage engine keeps.
type roomClock struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newRoomClock() *roomClock {
	return &roomClock{last: make(map[string]time.Time)}
}

func (c *roomClock) next(room string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := nowFunc().UTC().Truncate(time.Millisecond)
	if last, ok := c.last[room]; ok && !t.After(last) {
		t = last.Add(time.Millisecond)
	}
	c.last[room] = t
	return t
}

// latest returns the last timestamp handed out in `room`, if any.
func (c *roomClock) latest(room string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[room]
	return t, ok
}
