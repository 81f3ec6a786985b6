package umd

import "sync"

// HandleTable hands out monotonically increasing resource handles
// starting at 1, matching PvgpuAllocateResourceHandle: handles are never
// reused, even after the resource they named is destroyed, so a stale
// handle from a prior generation can never alias a live one.
type HandleTable struct {
	mu   sync.Mutex
	next uint32
}

// NewHandleTable returns a table whose first Alloc returns 1 (handle 0
// is reserved, matching "no resource" across the command set).
func NewHandleTable() *HandleTable {
	return &HandleTable{next: 1}
}

// Alloc returns the next unused handle.
func (h *HandleTable) Alloc() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.next
	h.next++
	return v
}
