// Package emulator implements the host-visible side of the PVGPU device:
// the BAR0 register file, MSI-X-style interrupt delivery, and the backend
// IPC channel that drains the command ring. It is the generalization of
// machine_bus.go's registered memory-mapped I/O regions down to PVGPU's
// fixed, small BAR0 register set, plus runtime_ipc.go's accept-loop shape
// applied to backend framing instead of a single OPEN command.
package emulator

import (
	"sync"

	"github.com/templarsco/pvgpu/protocol"
	"github.com/templarsco/pvgpu/shmem"
)

// Device is the emulator-side model of the PVGPU PCI function: BAR0
// config registers plus the BAR2 shared-memory region they describe.
type Device struct {
	mu sync.Mutex

	region *shmem.Region
	irq    *IRQController

	features     uint64
	doorbellHook func()
}

// SetDoorbellHook installs the function invoked whenever the guest rings
// the doorbell register. BackendConn wires this to forward a DOORBELL
// message to the connected backend; nil (the default) makes doorbell
// writes a no-op, matching the backend-absent fallback in §4.5.
func (d *Device) SetDoorbellHook(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doorbellHook = fn
}

// NewDevice wires a freshly created shared-memory region into a device
// with the given negotiated feature set and an interrupt controller that
// delivers through notify.
func NewDevice(region *shmem.Region, features uint64, notify IRQNotifier) *Device {
	region.Ctrl.SetFeatures(features)
	d := &Device{
		region:   region,
		features: features,
		irq:      NewIRQController(notify),
	}
	return d
}

// Region exposes the underlying shared-memory region, e.g. so a backend
// running in the same process can be wired directly without a socket.
func (d *Device) Region() *shmem.Region { return d.region }

// IRQ exposes the device's interrupt controller, e.g. so an in-process
// miniport can raise interrupts directly without a socket.
func (d *Device) IRQ() *IRQController { return d.irq }

// ReadBAR0 handles a guest read of a BAR0 config register. Unknown offsets
// return 0, matching a real PCI BAR reading back zero outside defined
// registers rather than faulting.
func (d *Device) ReadBAR0(offset uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch offset {
	case protocol.RegVersion:
		return protocol.Version()
	case protocol.RegFeatures:
		return uint32(d.features)
	case protocol.RegFeaturesHi:
		return uint32(d.features >> 32)
	case protocol.RegStatus:
		return d.region.Ctrl.Status()
	case protocol.RegIRQStatus:
		return d.irq.Status()
	case protocol.RegIRQMask:
		return d.irq.Mask()
	case protocol.RegShmemSize:
		return uint32(len(d.region.Ring) + len(d.region.Heap) + protocol.ControlRegionSize)
	case protocol.RegRingSize:
		return d.region.Ctrl.RingSize()
	default:
		return 0
	}
}

// WriteBAR0 handles a guest write of a BAR0 config register.
func (d *Device) WriteBAR0(offset uint32, value uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch offset {
	case protocol.RegStatus:
		// Write-1-to-clear-on-ERROR (§4.3): the guest's only sanctioned
		// write to STATUS is acknowledging ERROR; READY/BACKEND_CONN/
		// SHUTDOWN_PENDING/DEVICE_LOST are host-owned and a guest write
		// must not be able to clobber them.
		if value&protocol.StatusError != 0 {
			d.region.Ctrl.SetStatus(d.region.Ctrl.Status() &^ protocol.StatusError)
		}
	case protocol.RegDoorbell:
		d.onDoorbell()
	case protocol.RegIRQStatus:
		// Write-1-to-clear: each set bit in value clears the matching
		// latched IRQ.
		d.irq.Acknowledge(value)
	case protocol.RegIRQMask:
		d.irq.SetMask(value)
	case protocol.RegReset:
		if value&1 != 0 {
			d.resetLocked()
		}
	default:
		// Read-only or undefined register; ignore, matching BAR0's R/RW
		// split where writes to R-only offsets are no-ops rather than
		// faults.
	}
}

// resetLocked reinitializes pointer and IRQ state without renegotiating
// features or tearing down shared memory (§4.3: RESET re-arms the device,
// it does not destroy the BAR2 mapping or invalidate resources the
// backend already knows about), and sets STATUS=READY per the BAR0
// register table.
func (d *Device) resetLocked() {
	d.region.Ctrl.SetProducerPtr(0)
	d.region.Ctrl.SetConsumerPtr(0)
	d.region.Ctrl.SetGuestFenceRequest(0)
	d.region.Ctrl.SetHostFenceCompleted(0)
	d.region.Ctrl.SetErrorCode(protocol.ErrorSuccess)
	d.region.Ctrl.SetErrorData(0)
	d.region.Ctrl.SetStatus(protocol.StatusReady)
	d.irq.Reset()
}

// onDoorbell is invoked when the guest writes REG_DOORBELL to notify the
// host of newly submitted ring commands. The actual draining happens on
// the backend's own goroutine (see backend.Drainer); the doorbell's only
// job here is to forward the notification over the backend IPC channel,
// which NewBackendConn wires in through SetDoorbellHook.
func (d *Device) onDoorbell() {
	if d.doorbellHook != nil {
		d.doorbellHook()
	}
}

