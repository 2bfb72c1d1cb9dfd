package testutil

import (
	"fmt"
	"sort"
	"sync"

	"hoard-go/internal/hoard"
)

// MemoryHistory is an in-memory hoard.History. Safe for concurrent use.
type MemoryHistory struct {
	mu     sync.Mutex
	clock  hoard.Clock
	nextID int64
	ops    map[int64]*hoard.Operation
}

// NewMemoryHistory creates an empty MemoryHistory stamped by clock.
func NewMemoryHistory(clock hoard.Clock) *MemoryHistory {
	if clock == nil {
		clock = hoard.RealClock{}
	}
	return &MemoryHistory{clock: clock, ops: make(map[int64]*hoard.Operation)}
}

func (h *MemoryHistory) Start(op hoard.Operation) (*hoard.Operation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	op.ID = h.nextID
	op.Status = hoard.StatusRunning
	op.StartedAt = h.clock.Now()
	stored := op
	h.ops[op.ID] = &stored
	return &op, nil
}

func (h *MemoryHistory) Finish(id int64, status, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	op, ok := h.ops[id]
	if !ok {
		return fmt.Errorf("operation %d not found", id)
	}
	now := h.clock.Now()
	op.Status = status
	op.Message = message
	op.FinishedAt = &now
	return nil
}

func (h *MemoryHistory) List(itemName string, limit int) ([]*hoard.Operation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*hoard.Operation
	for _, op := range h.ops {
		if itemName == "" || op.ItemName == itemName {
			c := *op
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (h *MemoryHistory) Close() error { return nil }

// Count returns the number of recorded operations with the given status.
func (h *MemoryHistory) Count(status string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, op := range h.ops {
		if op.Status == status {
			n++
		}
	}
	return n
}

var _ hoard.History = (*MemoryHistory)(nil)
