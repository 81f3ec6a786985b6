// Package umd implements the guest user-mode driver: the side an
// application's D3D11 calls ultimately reach. It batches commands into a
// staging buffer, flushes them to the miniport's ring under a
// spin-yield-sleep backoff, tracks pipeline and resource state locally so
// redundant sets can eventually be elided, and paces Present calls
// against the host's completed-fence counter instead of stalling on
// every frame. Grounded on pvgpu_umd.c's PVGPU_UMD_DEVICE lifecycle
// (PvgpuWriteCommand/PvgpuFlushCommandBuffer/PvgpuMap/PvgpuUnmap/
// PvgpuPresent/PvgpuWaitFence), adapted into a broker interface instead
// of direct KMD escape calls so the same Device works whether the
// miniport lives in-process (this tree) or across a real
// D3DKMTEscape-style boundary.
package umd

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/templarsco/pvgpu/protocol"
)

// Map types, matching D3D11_MAP numbering closely enough for this
// driver's purposes: only the read/write distinction changes whether Map
// waits for a fence before handing back a pointer.
const (
	MapTypeRead         = 1
	MapTypeWrite        = 2
	MapTypeReadWrite    = 3
	MapTypeWriteDiscard = 4
)

// defaultMapTimeout bounds a read-path Map's wait for the backend to
// finish writing the mapped range, matching §4.5.
const defaultMapTimeout = 5 * time.Second

// presentWaitTimeout is the short fast-path-miss timeout Present falls
// back to when the previous frame's fence hasn't completed yet,
// matching PvgpuPresent's hardcoded 100ms wait.
const presentWaitTimeout = 100 * time.Millisecond

// Backoff phase boundaries for flushWithBackoff, matching
// PvgpuFlushCommandBuffer's spin/yield/sleep thresholds exactly (100,
// 500) rather than collapsing them into a single growing sleep — the
// one place the spec calls out that collapsing as wrong.
const (
	spinPhaseLimit  = 100
	yieldPhaseLimit = 500
)

var (
	ErrResourceNotFound = errors.New("umd: unknown resource handle")
	ErrNoSharedMemory   = errors.New("umd: shared memory not available")
	ErrWaitTimeout      = errors.New("umd: fence wait timed out")
	ErrDeviceRemoved    = errors.New("umd: device removed")
)

// EscapeBroker is the set of escape calls Device needs. Satisfied by
// *miniport.Miniport in-process; a real driver would satisfy it with a
// D3DKMTEscape wrapper instead. Kept as an interface so Device's tests
// can exercise it with a fake broker, the same seam
// backend_conn_test.go's manual socket peer gives BackendConn.
type EscapeBroker interface {
	AllocHeap(protocol.EscapeAllocHeapRequest) protocol.EscapeAllocHeapReply
	FreeHeap(protocol.EscapeFreeHeapRequest) protocol.EscapeFreeHeapReply
	SubmitCommands(data []byte) protocol.EscapeSubmitCommandsReply
	WaitFence(protocol.EscapeWaitFenceRequest) protocol.EscapeWaitFenceReply
	GetCaps() protocol.EscapeGetCapsReply
	RingDoorbell() protocol.EscapeRingDoorbellReply
	SetDisplayMode(protocol.EscapeSetDisplayModeRequest) protocol.EscapeSetDisplayModeReply
}

// FenceReader is the shared-memory fast path Present and WaitFence use
// to avoid an escape call when the fence has already completed.
// Satisfied by *protocol.ControlRegion in-process.
type FenceReader interface {
	HostFenceCompleted() uint64
}

// Device is one guest D3D11 device's worth of driver state.
type Device struct {
	broker EscapeBroker // nil: shared memory was never obtained (§4.5 fallback)
	fences FenceReader  // nil alongside broker
	heap   []byte       // guest's mapped view of the shared heap, nil alongside broker

	staging   *StagingBuffer
	handles   *HandleTable
	Pipeline  *PipelineShadow
	Resources *ResourceMirror

	fenceCounter     atomic.Uint64
	lastPresentFence atomic.Uint64

	Debug bool
}

// NewDevice wires a Device to broker/fences/heap. Pass nil for all three
// to model the backend-absent fallback path: the driver stays callable,
// every Flush silently discards its batch, and Map/WaitFence report
// ErrNoSharedMemory.
func NewDevice(broker EscapeBroker, fences FenceReader, heap []byte) *Device {
	return &Device{
		broker:    broker,
		fences:    fences,
		heap:      heap,
		staging:   NewStagingBuffer(),
		handles:   NewHandleTable(),
		Pipeline:  NewPipelineShadow(),
		Resources: NewResourceMirror(),
	}
}

// emit stages payload, flushing first if it wouldn't fit.
func (d *Device) emit(payload []byte) error {
	if !d.staging.Fits(payload) {
		if err := d.Flush(); err != nil {
			return err
		}
	}
	d.staging.WriteCommand(payload)
	return nil
}

// Flush hands the staged batch to the broker (or discards it, if no
// broker was ever obtained) and clears the staging buffer.
func (d *Device) Flush() error {
	if d.staging.Len() == 0 {
		return nil
	}
	if d.broker == nil {
		if d.Debug {
			log.Printf("umd: no shared memory, discarding %d staged bytes", d.staging.Len())
		}
		d.staging.Reset()
		return nil
	}

	data := append([]byte(nil), d.staging.Bytes()...)
	d.staging.Reset()
	return flushWithBackoff(d.broker, data)
}

// flushWithBackoff submits data, retrying on ErrorRingFull with the
// three-phase spin->yield->sleep backoff PvgpuFlushCommandBuffer uses
// while waiting for the consumer to catch up.
func flushWithBackoff(broker EscapeBroker, data []byte) error {
	spins := 0
	for {
		reply := broker.SubmitCommands(data)
		switch reply.Header.Status {
		case protocol.ErrorSuccess:
			broker.RingDoorbell()
			return nil
		case protocol.ErrorRingFull:
			spins++
			switch {
			case spins < spinPhaseLimit:
				// Spin: lowest latency for short waits.
			case spins < yieldPhaseLimit:
				runtime.Gosched()
			default:
				time.Sleep(time.Millisecond)
			}
		default:
			return fmt.Errorf("umd: submit commands failed: status %#x", reply.Header.Status)
		}
	}
}

// nextFenceValue allocates the next fence value, starting at 1 to match
// PvgpuInitSharedMemory's NextFenceValue = 1.
func (d *Device) nextFenceValue() uint64 { return d.fenceCounter.Add(1) }

func (d *Device) emitFence(fenceValue uint64) error {
	cmd := protocol.CmdFence{
		Header:     protocol.CommandHeader{CommandType: protocol.CmdTypeFence, CommandSize: uint32(structSize(protocol.CmdFence{}))},
		FenceValue: fenceValue,
	}
	return d.emit(protocol.Encode(&cmd))
}

// ResourceDesc describes a resource to create, matching CREATE_RESOURCE's
// payload one-for-one plus an optional InitialData the driver only uses
// to size BytecodeSize in the resource mirror (actual upload is out of
// scope here: the reference backend never inspects resource bytes).
type ResourceDesc struct {
	Type          uint32
	Format        uint32
	Width         uint32
	Height        uint32
	Depth         uint32
	MipLevels     uint32
	SampleCount   uint32
	SampleQuality uint32
	BindFlags     uint32
	MiscFlags     uint32
	InitialData   []byte
}

// CreateResource allocates a handle, tracks it in the resource mirror,
// and stages CREATE_RESOURCE.
func (d *Device) CreateResource(desc ResourceDesc) (uint32, error) {
	handle := d.handles.Alloc()
	d.Resources.Track(handle, ResourceInfo{
		Type: desc.Type, Format: desc.Format, Width: desc.Width, Height: desc.Height,
		Depth: desc.Depth, MipLevels: desc.MipLevels, BindFlags: desc.BindFlags,
		BytecodeSize: uint32(len(desc.InitialData)),
	})

	cmd := protocol.CmdCreateResource{
		Header: protocol.CommandHeader{
			CommandType: protocol.CmdTypeCreateResource,
			CommandSize: uint32(structSize(protocol.CmdCreateResource{})),
			ResourceID:  handle,
		},
		ResourceType: desc.Type, Format: desc.Format,
		Width: desc.Width, Height: desc.Height, Depth: desc.Depth,
		MipLevels: desc.MipLevels, SampleCount: desc.SampleCount, SampleQuality: desc.SampleQuality,
		BindFlags: desc.BindFlags, MiscFlags: desc.MiscFlags, DataSize: uint32(len(desc.InitialData)),
	}
	if err := d.emit(protocol.Encode(&cmd)); err != nil {
		return 0, err
	}
	return handle, nil
}

// DestroyResource untracks handle and stages DESTROY_RESOURCE. Handles
// are never reused (HandleTable is monotonic), so a stale reference to a
// destroyed resource can never alias a new one.
func (d *Device) DestroyResource(handle uint32) error {
	d.Resources.Untrack(handle)
	cmd := protocol.CmdDestroyResource{
		Header: protocol.CommandHeader{CommandType: protocol.CmdTypeDestroyResource, CommandSize: protocol.CmdHeaderSize, ResourceID: handle},
	}
	return d.emit(protocol.Encode(&cmd))
}

// OpenResource re-attaches to a resource this device already created,
// handing back the locally tracked ResourceInfo. PvgpuOpenResource in
// the guest UMD additionally supports attaching to a handle minted by
// another device for cross-process sharing; that case is out of scope
// per spec.md's guest-to-guest resource sharing non-goal, so this is
// the local-only subset: a lookup against the resource mirror rather
// than a new escape round trip.
func (d *Device) OpenResource(handle uint32) (ResourceInfo, error) {
	info, ok := d.Resources.Get(handle)
	if !ok {
		return ResourceInfo{}, ErrResourceNotFound
	}
	return info, nil
}

// MapResult is the guest-visible span backing a mapped resource plus its
// row/depth pitch, matching MAP_RESOURCE's reply fields (§4.5).
type MapResult struct {
	Data       []byte
	RowPitch   uint32
	DepthPitch uint32
}

// Map allocates heap space for handle's mapped range, stages
// MAP_RESOURCE, and for read-capable map types flushes and waits for the
// backend's write-back fence before returning. WriteDiscard/Write maps
// skip the wait since the guest is about to overwrite the range anyway.
func (d *Device) Map(handle uint32, subresource uint32, mapType uint32) (MapResult, error) {
	info, ok := d.Resources.Get(handle)
	if !ok {
		return MapResult{}, ErrResourceNotFound
	}
	if d.broker == nil || d.heap == nil {
		return MapResult{}, ErrNoSharedMemory
	}

	rowPitch := formatRowPitch(info.Format, info.Width)
	size := rowPitch * info.Height
	if size == 0 {
		size = info.Width // buffers (no format) size by width alone
	}
	depthPitch := rowPitch * info.Height

	alloc := d.broker.AllocHeap(protocol.EscapeAllocHeapRequest{Size: size, Alignment: 256})
	if alloc.Header.Status != protocol.ErrorSuccess {
		return MapResult{}, fmt.Errorf("umd: heap alloc failed: status %#x", alloc.Header.Status)
	}

	cmd := protocol.CmdMapResource{
		Header: protocol.CommandHeader{
			CommandType: protocol.CmdTypeMapResource,
			CommandSize: uint32(structSize(protocol.CmdMapResource{})),
			ResourceID:  handle,
		},
		Subresource: subresource, MapType: mapType, HeapOffset: alloc.Offset,
	}
	if err := d.emit(protocol.Encode(&cmd)); err != nil {
		return MapResult{}, err
	}

	if mapType == MapTypeRead || mapType == MapTypeReadWrite {
		fence := d.nextFenceValue()
		if err := d.emitFence(fence); err != nil {
			return MapResult{}, err
		}
		if err := d.Flush(); err != nil {
			return MapResult{}, err
		}
		if err := d.WaitFence(fence, uint32(defaultMapTimeout/time.Millisecond)); err != nil {
			return MapResult{}, fmt.Errorf("umd: map wait fence: %w", err)
		}
	}

	d.Resources.SetMapped(handle, true, alloc.Offset, alloc.Size)
	end := alloc.Offset + alloc.Size
	if int(end) > len(d.heap) {
		end = uint32(len(d.heap))
	}
	return MapResult{Data: d.heap[alloc.Offset:end], RowPitch: rowPitch, DepthPitch: depthPitch}, nil
}

// Unmap stages UNMAP_RESOURCE, flushes so the backend's write-back
// lands before the heap range is reclaimed, then frees the heap range.
func (d *Device) Unmap(handle uint32, subresource uint32) error {
	info, ok := d.Resources.Get(handle)
	if !ok {
		return ErrResourceNotFound
	}
	if !info.Mapped {
		return nil
	}

	if err := d.emit(headerOnly(protocol.CmdTypeUnmapResource, handle)); err != nil {
		return err
	}
	if err := d.Flush(); err != nil {
		return err
	}
	if d.broker != nil {
		d.broker.FreeHeap(protocol.EscapeFreeHeapRequest{Offset: info.HeapOffset, Size: info.HeapSize})
	}
	d.Resources.SetMapped(handle, false, 0, 0)
	return nil
}

// Present reserves a new fence value, waits for the *previous* present's
// fence (not this one) when vsync is on, then stages PRESENT and its
// trailing FENCE. This is the double-buffered fence discipline: it trades
// one frame of latency for removing the per-present stall (§4.5).
func (d *Device) Present(backbufferID, syncInterval uint32) error {
	last := d.lastPresentFence.Load()
	if last > 0 && syncInterval > 0 {
		completed := uint64(0)
		if d.fences != nil {
			completed = d.fences.HostFenceCompleted()
		}
		if completed < last {
			// Fast path missed; fall back to a short escape-based wait
			// rather than blocking indefinitely.
			_ = d.WaitFence(last, uint32(presentWaitTimeout/time.Millisecond))
		}
	}

	fence := d.nextFenceValue()
	cmd := protocol.CmdPresent{
		Header:       protocol.CommandHeader{CommandType: protocol.CmdTypePresent, CommandSize: uint32(structSize(protocol.CmdPresent{}))},
		BackbufferID: backbufferID,
		SyncInterval: syncInterval,
	}
	if err := d.emit(protocol.Encode(&cmd)); err != nil {
		return err
	}
	if err := d.emitFence(fence); err != nil {
		return err
	}
	if err := d.Flush(); err != nil {
		return err
	}
	d.lastPresentFence.Store(fence)
	return nil
}

// WaitFence waits for fenceValue to complete, taking the shared-memory
// fast path before falling back to the broker's WAIT_FENCE escape.
func (d *Device) WaitFence(fenceValue uint64, timeoutMS uint32) error {
	if d.fences != nil && d.fences.HostFenceCompleted() >= fenceValue {
		return nil
	}
	if d.broker == nil {
		return ErrNoSharedMemory
	}

	reply := d.broker.WaitFence(protocol.EscapeWaitFenceRequest{Target: fenceValue, TimeoutMS: timeoutMS})
	switch reply.Header.Status {
	case protocol.ErrorSuccess:
		return nil
	case protocol.ErrorTimeout:
		return ErrWaitTimeout
	case protocol.ErrorDeviceLost:
		return ErrDeviceRemoved
	default:
		return fmt.Errorf("umd: wait fence failed: status %#x", reply.Header.Status)
	}
}

// Caps reports the negotiated feature bitmap and resource limits.
func (d *Device) Caps() (protocol.EscapeGetCapsReply, error) {
	if d.broker == nil {
		return protocol.EscapeGetCapsReply{}, ErrNoSharedMemory
	}
	return d.broker.GetCaps(), nil
}

// SetDisplayMode requests a display mode change.
func (d *Device) SetDisplayMode(width, height, refresh, format uint32) error {
	if d.broker == nil {
		return ErrNoSharedMemory
	}
	reply := d.broker.SetDisplayMode(protocol.EscapeSetDisplayModeRequest{
		Width: width, Height: height, Refresh: refresh, Format: format,
	})
	if reply.Header.Status != protocol.ErrorSuccess {
		return fmt.Errorf("umd: set display mode failed: status %#x", reply.Header.Status)
	}
	return nil
}
