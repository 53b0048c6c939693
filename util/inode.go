package util

import (
	"math"
	"sync"
)

// IDAllocator hands out increasing identifiers above a high-water mark.
type IDAllocator struct {
	mu      sync.Mutex
	highest uint64
}

// NewIDAllocator returns an allocator whose next id is highest+1.
func NewIDAllocator(highest uint64) *IDAllocator {
	return &IDAllocator{highest: highest}
}

// Next returns a fresh identifier.
func (a *IDAllocator) Next() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.highest == math.MaxUint64 {
		return 0, ErrIDExhausted
	}
	a.highest++
	return a.highest, nil
}

// Observe raises the high-water mark to id if it is larger.
func (a *IDAllocator) Observe(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id > a.highest {
		a.highest = id
	}
}

// Highest returns the largest identifier handed out or observed.
func (a *IDAllocator) Highest() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.highest
}
