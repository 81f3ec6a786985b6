// Package miniport implements the guest-side kernel broker: the thin
// layer that owns the shared-memory resource heap, validates the device's
// magic/version on attach, and exposes the escape interface the UMD calls
// into. It is the generalization of machine_bus.go's registered
// memory-mapped I/O regions down to PVGPU's small, fixed BAR0 register
// set, plus runtime_ipc.go's accept-loop shape — except here there is no
// network boundary, since on the real target the miniport and the device
// it talks to are both kernel-resident. In this tree the two are
// collapsed into one process, so RegisterPort stands in for what would be
// an MmMapIoSpace'd BAR0 on the real target.
package miniport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/templarsco/pvgpu/protocol"
	"github.com/templarsco/pvgpu/shmem"
)

// RegisterPort is the BAR0 config-register access a miniport needs.
// emulator.Device satisfies this in-process; the real target would
// satisfy it with MmMapIoSpace'd reads/writes instead.
type RegisterPort interface {
	ReadBAR0(offset uint32) uint32
	WriteBAR0(offset uint32, value uint32)
}

var (
	// ErrBadMagic is returned by New when the shared-memory control
	// region does not start with protocol.Magic.
	ErrBadMagic = errors.New("miniport: control region magic mismatch")
	// ErrVersionMismatch is returned by New when the device reports a
	// protocol major version this miniport does not understand.
	ErrVersionMismatch = errors.New("miniport: unsupported protocol version")
	// ErrDeviceRemoved is returned by any operation once the device has
	// signalled shutdown or device-lost status, mirroring
	// DXGI_ERROR_DEVICE_REMOVED in the guest sources this was distilled
	// from.
	ErrDeviceRemoved = errors.New("miniport: device removed")
	// ErrWaitTimeout is returned by WaitFence when the target fence
	// value does not complete within the requested timeout.
	ErrWaitTimeout = errors.New("miniport: fence wait timed out")
)

// waitPollInterval is how often WaitFence re-checks host_fence_completed
// between the fast-path check and giving up at the caller's timeout.
const waitPollInterval = time.Millisecond

// Miniport brokers UMD escape calls against one PVGPU device: ring
// submission under a mutex standing in for the real KIRQL-raised
// spinlock PvgpuSubmitToRing takes (Go has no IRQL; a mutex is the
// portable equivalent, the same substitution machine_bus.go makes with
// sync.RWMutex for state a real bus would protect more cheaply), heap
// allocation through shmem.HeapAllocator, and fence waits that poll
// host_fence_completed.
type Miniport struct {
	port   RegisterPort
	region *shmem.Region
	ring   *shmem.Ring
	heap   *shmem.HeapAllocator

	submitMu sync.Mutex

	notifyMu sync.Mutex
	pending  []uint32 // fence low-32-bits queued by HandleInterrupt, drained by deferredNotify
}

// New validates the shared-memory region's magic and major version and
// wires up the ring and heap allocator. region must already be populated
// (Init called) by the side that owns shared-memory lifetime — the
// emulator in this tree, a real PCIe BAR2 mapping on the target.
func New(port RegisterPort, region *shmem.Region) (*Miniport, error) {
	if region.Ctrl.Magic() != protocol.Magic {
		return nil, ErrBadMagic
	}
	if region.Ctrl.Version()>>16 != protocol.VersionMajor {
		return nil, fmt.Errorf("%w: device reports %#x, want major %d", ErrVersionMismatch, region.Ctrl.Version(), protocol.VersionMajor)
	}

	ring, err := shmem.NewRing(region.Ctrl, region.Ring)
	if err != nil {
		return nil, err
	}
	heap, err := shmem.NewHeapAllocator(region.Ctrl.HeapSize())
	if err != nil {
		return nil, err
	}

	return &Miniport{port: port, region: region, ring: ring, heap: heap}, nil
}

// removed reports whether the device has signalled it can no longer accept
// work: SHUTDOWN or DEVICE_LOST status, or a non-zero error_code (§4.4:
// "abort on observing SHUTDOWN, DEVICE_LOST, or non-zero error_code").
func (m *Miniport) removed() error {
	status := m.region.Ctrl.Status()
	if status&protocol.StatusShutdownPending != 0 {
		return fmt.Errorf("%w: shutdown pending", ErrDeviceRemoved)
	}
	if status&protocol.StatusDeviceLost != 0 {
		return fmt.Errorf("%w: device lost", ErrDeviceRemoved)
	}
	if code := m.region.Ctrl.ErrorCode(); code != protocol.ErrorSuccess {
		return fmt.Errorf("%w: error_code %#x", ErrDeviceRemoved, code)
	}
	return nil
}

// GetShmemInfo answers PVGPU_ESCAPE_GET_SHMEM_INFO: the ring/heap
// geometry and negotiated features the UMD needs to start issuing
// commands.
func (m *Miniport) GetShmemInfo(req protocol.EscapeGetShmemInfoRequest) protocol.EscapeGetShmemInfoReply {
	return protocol.EscapeGetShmemInfoReply{
		Header:     protocol.EscapeHeader{EscapeCode: protocol.EscapeGetShmemInfo, Status: protocol.ErrorSuccess},
		ShmemSize:  uint64(m.region.Ctrl.RingOffset()) + uint64(m.region.Ctrl.RingSize()) + uint64(m.region.Ctrl.HeapSize()),
		RingOffset: m.region.Ctrl.RingOffset(),
		RingSize:   m.region.Ctrl.RingSize(),
		HeapOffset: m.region.Ctrl.HeapOffset(),
		HeapSize:   m.region.Ctrl.HeapSize(),
		Features:   m.region.Ctrl.Features(),
	}
}

// AllocHeap answers PVGPU_ESCAPE_ALLOC_HEAP.
func (m *Miniport) AllocHeap(req protocol.EscapeAllocHeapRequest) protocol.EscapeAllocHeapReply {
	offset, err := m.heap.Alloc(req.Size, req.Alignment)
	if err != nil {
		return protocol.EscapeAllocHeapReply{
			Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeAllocHeap, Status: protocol.ErrorOutOfMemory},
		}
	}
	return protocol.EscapeAllocHeapReply{
		Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeAllocHeap, Status: protocol.ErrorSuccess},
		Offset: offset,
		Size:   req.Size,
	}
}

// FreeHeap answers PVGPU_ESCAPE_FREE_HEAP.
func (m *Miniport) FreeHeap(req protocol.EscapeFreeHeapRequest) protocol.EscapeFreeHeapReply {
	if err := m.heap.Free(req.Offset, req.Size); err != nil {
		return protocol.EscapeFreeHeapReply{
			Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeFreeHeap, Status: protocol.ErrorInvalidParameter},
		}
	}
	return protocol.EscapeFreeHeapReply{Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeFreeHeap, Status: protocol.ErrorSuccess}}
}

// SubmitCommands answers PVGPU_ESCAPE_SUBMIT_COMMANDS: it copies data
// (already built by the UMD in its staging buffer) onto the ring under
// submitMu, the spinlock-equivalent serializing producers, matching
// PvgpuSubmitToRing's KeAcquireSpinLock/KeReleaseSpinLock bracket.
func (m *Miniport) SubmitCommands(data []byte) protocol.EscapeSubmitCommandsReply {
	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	if err := m.removed(); err != nil {
		// §8 Scenario 6: once the device has been removed, ring writes are
		// silently discarded from the guest's perspective (there is no
		// backend left to drain them) and the escape reports DEVICE_LOST.
		return protocol.EscapeSubmitCommandsReply{
			Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeSubmitCommands, Status: protocol.ErrorDeviceLost},
		}
	}

	if err := m.ring.Push(data); err != nil {
		status := uint32(protocol.ErrorRingFull)
		if !errors.Is(err, shmem.ErrRingFull) {
			status = protocol.ErrorInvalidParameter
		}
		return protocol.EscapeSubmitCommandsReply{
			Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeSubmitCommands, Status: status},
		}
	}
	return protocol.EscapeSubmitCommandsReply{
		Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeSubmitCommands, Status: protocol.ErrorSuccess},
	}
}

// RingDoorbell answers PVGPU_ESCAPE_RING_DOORBELL: writing the doorbell
// register is best-effort, matching PvgpuRingDoorbell's "ignore errors"
// comment in the guest UMD source — there is nothing to retry if the
// backend isn't listening.
func (m *Miniport) RingDoorbell() protocol.EscapeRingDoorbellReply {
	m.port.WriteBAR0(protocol.RegDoorbell, 1)
	return protocol.EscapeRingDoorbellReply{Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeRingDoorbell, Status: protocol.ErrorSuccess}}
}

// WaitFence answers PVGPU_ESCAPE_WAIT_FENCE. It checks device-removed
// status first, takes the fast path if the target already completed,
// then polls host_fence_completed at waitPollInterval until it completes
// or req.TimeoutMS elapses — mirroring PvgpuWaitFence's status check,
// fast path, then bounded wait, without the real implementation's KMD
// round trip since miniport and UMD share a process here.
func (m *Miniport) WaitFence(req protocol.EscapeWaitFenceRequest) protocol.EscapeWaitFenceReply {
	if err := m.removed(); err != nil {
		return protocol.EscapeWaitFenceReply{
			Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeWaitFence, Status: protocol.ErrorDeviceLost},
		}
	}

	completed := m.region.Ctrl.HostFenceCompleted()
	if completed >= req.Target {
		return protocol.EscapeWaitFenceReply{
			Header:    protocol.EscapeHeader{EscapeCode: protocol.EscapeWaitFence, Status: protocol.ErrorSuccess},
			Completed: completed,
		}
	}

	deadline := time.Now().Add(time.Duration(req.TimeoutMS) * time.Millisecond)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := m.removed(); err != nil {
			return protocol.EscapeWaitFenceReply{
				Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeWaitFence, Status: protocol.ErrorDeviceLost},
			}
		}
		completed = m.region.Ctrl.HostFenceCompleted()
		if completed >= req.Target {
			return protocol.EscapeWaitFenceReply{
				Header:    protocol.EscapeHeader{EscapeCode: protocol.EscapeWaitFence, Status: protocol.ErrorSuccess},
				Completed: completed,
			}
		}
		if time.Now().After(deadline) {
			return protocol.EscapeWaitFenceReply{
				Header:    protocol.EscapeHeader{EscapeCode: protocol.EscapeWaitFence, Status: protocol.ErrorTimeout},
				Completed: completed,
			}
		}
	}
	return protocol.EscapeWaitFenceReply{Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeWaitFence, Status: protocol.ErrorTimeout}}
}

// GetCaps answers PVGPU_ESCAPE_GET_CAPS with the negotiated feature
// bitmap and fixed resource limits this implementation supports.
func (m *Miniport) GetCaps() protocol.EscapeGetCapsReply {
	return protocol.EscapeGetCapsReply{
		Header:           protocol.EscapeHeader{EscapeCode: protocol.EscapeGetCaps, Status: protocol.ErrorSuccess},
		Features:         m.region.Ctrl.Features(),
		MaxTextureSize:   16384,
		MaxRenderTargets: 8,
	}
}

// SetDisplayMode answers PVGPU_ESCAPE_SET_DISPLAY_MODE. Zero width,
// height or refresh is rejected per spec.md §4.4; IsStandardMode is
// advisory only, matching the original guest driver's g_DisplayModes
// table — modes outside that table are still accepted.
func (m *Miniport) SetDisplayMode(req protocol.EscapeSetDisplayModeRequest) protocol.EscapeSetDisplayModeReply {
	if req.Width == 0 || req.Height == 0 || req.Refresh == 0 {
		return protocol.EscapeSetDisplayModeReply{
			Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeSetDisplayMode, Status: protocol.ErrorInvalidParameter},
		}
	}
	m.region.Ctrl.SetDisplayMode(protocol.DisplayMode{
		Width: req.Width, Height: req.Height, Refresh: req.Refresh, Format: req.Format,
	})
	return protocol.EscapeSetDisplayModeReply{Header: protocol.EscapeHeader{EscapeCode: protocol.EscapeSetDisplayMode, Status: protocol.ErrorSuccess}}
}

// HandleInterrupt is the ISR-equivalent half of the interrupt pathway
// (PvgpuInterruptRoutine in the guest KMD source): it does the minimal
// work of acknowledging the latched IRQ_STATUS bits and recording which
// fence vectors fired, then returns immediately. The actual notification
// work happens in deferredNotify, mirroring the KMD's
// DxgkCbQueueDpc(...)-then-PvgpuDpcRoutine split — Go has no ISR/DPC
// distinction, but the two-method shape is kept to preserve the
// latency-sensitive structuring: HandleInterrupt must never block.
func (m *Miniport) HandleInterrupt() bool {
	status := m.port.ReadBAR0(protocol.RegIRQStatus)
	if status == 0 {
		return false
	}
	m.port.WriteBAR0(protocol.RegIRQStatus, status)

	if status&protocol.IRQFenceComplete != 0 {
		m.notifyMu.Lock()
		m.pending = append(m.pending, uint32(m.region.Ctrl.HostFenceCompleted()))
		m.notifyMu.Unlock()
	}
	return true
}

// deferredNotify is the DPC-equivalent: it drains whatever fence
// completions HandleInterrupt queued and hands them to notify (the
// UMD's present/map wait paths poll host_fence_completed directly, so
// notify is mainly a hook for tests and future event-based waiters).
func (m *Miniport) deferredNotify(notify func(fenceLow32 uint32)) {
	m.notifyMu.Lock()
	pending := m.pending
	m.pending = nil
	m.notifyMu.Unlock()

	for _, f := range pending {
		notify(f)
	}
}

// DeferredNotify exposes deferredNotify for the device's interrupt
// delivery callback to invoke after HandleInterrupt returns.
func (m *Miniport) DeferredNotify(notify func(fenceLow32 uint32)) {
	m.deferredNotify(notify)
}
