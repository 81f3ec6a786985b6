package protocol

import "sync/atomic"

// ControlRegion is the 4096-byte header at offset 0 of shared memory.
//
// This layout differs from a straight C port: the original protocol header
// (a C struct from the system this was distilled from) packs producer_ptr,
// consumer_ptr, guest_fence_request and host_fence_completed only 8 bytes
// apart, so the guest's producer write and the host's consumer write land
// on the same cache line and the two sides ping-pong it across the bus on
// every doorbell. Each of the four hot counters gets its own 64-byte-aligned
// cache line here instead, the same way audio_chip.go's channel registers
// are split with named _pad fields to keep independent writers off each
// other's lines. Total size is unchanged at 4096 bytes; the padding comes
// out of the original's single reserved tail.
//
// Cache line 0 (0x000-0x03F): magic, version, features, ring/heap geometry.
// Cache lines 1-4 (0x040-0x13F): producer_ptr, consumer_ptr,
// guest_fence_request, host_fence_completed, one per line.
// Cache line 5 (0x140-0x17F): status, error_code, error_data, display config.
// Remainder: reserved, padded to exactly 4096 bytes.
type ControlRegion struct {
	raw [ControlRegionSize]byte
}

const (
	offMagic       = 0x000
	offVersion     = 0x004
	offFeatures    = 0x008
	offRingOffset  = 0x010
	offRingSize    = 0x014
	offHeapOffset  = 0x018
	offHeapSize    = 0x01C
	offProducerPtr = 0x040
	offConsumerPtr = 0x080
	offGuestFence  = 0x0C0
	offHostFence   = 0x100
	offStatus      = 0x140
	offErrorCode   = 0x144
	offErrorData   = 0x148
	offDisplayW    = 0x150
	offDisplayH    = 0x154
	offDisplayRate = 0x158
	offDisplayFmt  = 0x15C
)

func (c *ControlRegion) u32(off int) *uint32 {
	return (*uint32)(byteOffset(&c.raw[0], off))
}

func (c *ControlRegion) u64(off int) *uint64 {
	return (*uint64)(byteOffset(&c.raw[0], off))
}

// Init stamps magic, version and the ring/heap geometry. Called once by
// whichever side creates the shared-memory region (the emulator).
func (c *ControlRegion) Init(ringOffset, ringSize, heapOffset, heapSize uint32) {
	atomic.StoreUint32(c.u32(offMagic), Magic)
	atomic.StoreUint32(c.u32(offVersion), Version())
	atomic.StoreUint32(c.u32(offRingOffset), ringOffset)
	atomic.StoreUint32(c.u32(offRingSize), ringSize)
	atomic.StoreUint32(c.u32(offHeapOffset), heapOffset)
	atomic.StoreUint32(c.u32(offHeapSize), heapSize)
}

func (c *ControlRegion) Magic() uint32   { return atomic.LoadUint32(c.u32(offMagic)) }
func (c *ControlRegion) Version() uint32 { return atomic.LoadUint32(c.u32(offVersion)) }

func (c *ControlRegion) Features() uint64      { return atomic.LoadUint64(c.u64(offFeatures)) }
func (c *ControlRegion) SetFeatures(f uint64)  { atomic.StoreUint64(c.u64(offFeatures), f) }

func (c *ControlRegion) RingOffset() uint32 { return atomic.LoadUint32(c.u32(offRingOffset)) }
func (c *ControlRegion) RingSize() uint32   { return atomic.LoadUint32(c.u32(offRingSize)) }
func (c *ControlRegion) HeapOffset() uint32 { return atomic.LoadUint32(c.u32(offHeapOffset)) }
func (c *ControlRegion) HeapSize() uint32   { return atomic.LoadUint32(c.u32(offHeapSize)) }

// ProducerPtr is written by the guest (UMD/miniport) after appending to the
// ring, released so the host observes a consistent ring up to this point.
func (c *ControlRegion) ProducerPtr() uint64     { return atomic.LoadUint64(c.u64(offProducerPtr)) }
func (c *ControlRegion) SetProducerPtr(v uint64) { atomic.StoreUint64(c.u64(offProducerPtr), v) }

// ConsumerPtr is written by the host (backend) after draining the ring.
func (c *ControlRegion) ConsumerPtr() uint64     { return atomic.LoadUint64(c.u64(offConsumerPtr)) }
func (c *ControlRegion) SetConsumerPtr(v uint64) { atomic.StoreUint64(c.u64(offConsumerPtr), v) }

func (c *ControlRegion) GuestFenceRequest() uint64 { return atomic.LoadUint64(c.u64(offGuestFence)) }
func (c *ControlRegion) SetGuestFenceRequest(v uint64) {
	atomic.StoreUint64(c.u64(offGuestFence), v)
}

func (c *ControlRegion) HostFenceCompleted() uint64 { return atomic.LoadUint64(c.u64(offHostFence)) }
func (c *ControlRegion) SetHostFenceCompleted(v uint64) {
	atomic.StoreUint64(c.u64(offHostFence), v)
}

func (c *ControlRegion) Status() uint32     { return atomic.LoadUint32(c.u32(offStatus)) }
func (c *ControlRegion) SetStatus(v uint32) { atomic.StoreUint32(c.u32(offStatus), v) }

func (c *ControlRegion) ErrorCode() uint32     { return atomic.LoadUint32(c.u32(offErrorCode)) }
func (c *ControlRegion) SetErrorCode(v uint32) { atomic.StoreUint32(c.u32(offErrorCode), v) }

func (c *ControlRegion) ErrorData() uint32     { return atomic.LoadUint32(c.u32(offErrorData)) }
func (c *ControlRegion) SetErrorData(v uint32) { atomic.StoreUint32(c.u32(offErrorData), v) }

// DisplayMode is the current width/height/refresh/DXGI format quadruple.
type DisplayMode struct {
	Width   uint32
	Height  uint32
	Refresh uint32
	Format  uint32
}

func (c *ControlRegion) DisplayMode() DisplayMode {
	return DisplayMode{
		Width:   atomic.LoadUint32(c.u32(offDisplayW)),
		Height:  atomic.LoadUint32(c.u32(offDisplayH)),
		Refresh: atomic.LoadUint32(c.u32(offDisplayRate)),
		Format:  atomic.LoadUint32(c.u32(offDisplayFmt)),
	}
}

func (c *ControlRegion) SetDisplayMode(m DisplayMode) {
	atomic.StoreUint32(c.u32(offDisplayW), m.Width)
	atomic.StoreUint32(c.u32(offDisplayH), m.Height)
	atomic.StoreUint32(c.u32(offDisplayRate), m.Refresh)
	atomic.StoreUint32(c.u32(offDisplayFmt), m.Format)
}

// RingHasSpace reports whether size bytes can be appended to the ring
// without the producer lapping the consumer.
func (c *ControlRegion) RingHasSpace(size uint32) bool {
	used := c.ProducerPtr() - c.ConsumerPtr()
	return used+uint64(size) <= uint64(c.RingSize())
}
