package protocol

import (
	"testing"
	"unsafe"
)

func TestControlRegionSize(t *testing.T) {
	var c ControlRegion
	if got := unsafe.Sizeof(c); got != ControlRegionSize {
		t.Fatalf("ControlRegion size = %d, want %d", got, ControlRegionSize)
	}
}

// TestControlRegionCacheLineIsolation checks the four hot counters each sit
// on their own 64-byte-aligned line, and no two of them share one. This is
// the invariant the redesign exists to satisfy (see control_region.go).
func TestControlRegionCacheLineIsolation(t *testing.T) {
	offsets := map[string]int{
		"producer_ptr":         offProducerPtr,
		"consumer_ptr":         offConsumerPtr,
		"guest_fence_request":  offGuestFence,
		"host_fence_completed": offHostFence,
	}
	const line = 64
	seen := map[int]string{}
	for name, off := range offsets {
		if off%line != 0 {
			t.Errorf("%s at offset %#x is not cache-line aligned", name, off)
		}
		cl := off / line
		if other, ok := seen[cl]; ok {
			t.Errorf("%s and %s share cache line %d", name, other, cl)
		}
		seen[cl] = name
	}
}

func TestControlRegionInitAndAccessors(t *testing.T) {
	var c ControlRegion
	c.Init(0x1000, CommandRingSize, 0x1001000, 0x1000000)

	if c.Magic() != Magic {
		t.Fatalf("Magic() = %#x, want %#x", c.Magic(), Magic)
	}
	if c.RingOffset() != 0x1000 || c.RingSize() != CommandRingSize {
		t.Fatalf("ring geometry not stored correctly")
	}
	if c.HeapOffset() != 0x1001000 || c.HeapSize() != 0x1000000 {
		t.Fatalf("heap geometry not stored correctly")
	}

	c.SetProducerPtr(100)
	c.SetConsumerPtr(40)
	if !c.RingHasSpace(CommandRingSize - 60) {
		t.Fatalf("expected space for ring_size - used bytes")
	}
	if c.RingHasSpace(CommandRingSize - 59) {
		t.Fatalf("did not expect space beyond ring capacity")
	}

	mode := DisplayMode{Width: 1920, Height: 1080, Refresh: 60, Format: 28}
	c.SetDisplayMode(mode)
	if got := c.DisplayMode(); got != mode {
		t.Fatalf("DisplayMode() = %+v, want %+v", got, mode)
	}
}
