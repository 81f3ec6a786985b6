package umd

import "sync"

// ResourceInfo mirrors one CREATE_RESOURCE's description plus live
// mapping state, matching §3's resource mirror fields: type and
// dimensions are immutable between create and destroy, Mapped/HeapOffset/
// HeapSize change across a Map/Unmap pair.
type ResourceInfo struct {
	Type         uint32
	Format       uint32
	Width        uint32
	Height       uint32
	Depth        uint32
	MipLevels    uint32
	BindFlags    uint32
	BytecodeSize uint32 // populated for shader resource types

	Mapped     bool
	HeapOffset uint32
	HeapSize   uint32
}

// ResourceMirror tracks one ResourceInfo per live handle.
type ResourceMirror struct {
	mu        sync.Mutex
	resources map[uint32]*ResourceInfo
}

func NewResourceMirror() *ResourceMirror {
	return &ResourceMirror{resources: make(map[uint32]*ResourceInfo)}
}

func (m *ResourceMirror) Track(handle uint32, info ResourceInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[handle] = &info
}

func (m *ResourceMirror) Untrack(handle uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, handle)
}

func (m *ResourceMirror) Get(handle uint32) (ResourceInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.resources[handle]
	if !ok {
		return ResourceInfo{}, false
	}
	return *info, true
}

func (m *ResourceMirror) SetMapped(handle uint32, mapped bool, heapOffset, heapSize uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.resources[handle]
	if !ok {
		return
	}
	info.Mapped = mapped
	info.HeapOffset = heapOffset
	info.HeapSize = heapSize
}

// Count reports how many resources are currently tracked, for tests.
func (m *ResourceMirror) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resources)
}
