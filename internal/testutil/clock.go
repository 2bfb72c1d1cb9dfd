package testutil

import (
	"fmt"
	"sync"
	"time"

	"hoard-go/internal/record"
)

// StubClock is a settable clock for backup naming and retention tests.
// Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC, so the
// first backup a test takes is named <item>_20240115_103000.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Stamp formats the current time the way backup filenames do.
func (c *StubClock) Stamp() string {
	return c.Now().Format(record.TimestampLayout)
}

// SequenceIDs hands out task IDs "task-1", "task-2" and so on.
type SequenceIDs struct {
	mu   sync.Mutex
	next int
}

func NewSequenceIDs() *SequenceIDs {
	return &SequenceIDs{}
}

func (g *SequenceIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("task-%d", g.next)
}
