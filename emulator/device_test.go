package emulator

import (
	"path/filepath"
	"testing"

	"github.com/templarsco/pvgpu/protocol"
	"github.com/templarsco/pvgpu/shmem"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pvgpu.shm")
	region, err := shmem.Create(path, 1<<20, 64<<10)
	if err != nil {
		t.Fatalf("shmem.Create: %v", err)
	}
	t.Cleanup(func() { region.Close() })
	return NewDevice(region, protocol.FeaturesMVP, nil)
}

func TestDeviceRegisterReadWrite(t *testing.T) {
	d := newTestDevice(t)

	if got := d.ReadBAR0(protocol.RegVersion); got != protocol.Version() {
		t.Fatalf("RegVersion = %#x, want %#x", got, protocol.Version())
	}
	if got := d.ReadBAR0(protocol.RegFeatures); got != uint32(protocol.FeaturesMVP) {
		t.Fatalf("RegFeatures = %#x, want %#x", got, uint32(protocol.FeaturesMVP))
	}

	// STATUS is host-owned except for guest write-1-to-clear on ERROR
	// (§4.3): writing READY (which is not ERROR) must not set it.
	d.WriteBAR0(protocol.RegStatus, protocol.StatusReady)
	if got := d.ReadBAR0(protocol.RegStatus); got != 0 {
		t.Fatalf("RegStatus after non-ERROR write = %#x, want 0 (guest writes cannot set host-owned bits)", got)
	}

	d.region.Ctrl.SetStatus(protocol.StatusReady | protocol.StatusError)
	d.WriteBAR0(protocol.RegStatus, protocol.StatusError)
	if got := d.ReadBAR0(protocol.RegStatus); got != protocol.StatusReady {
		t.Fatalf("RegStatus after ERROR ack = %#x, want %#x (READY preserved, ERROR cleared)", got, protocol.StatusReady)
	}
}

func TestDeviceIRQWriteOneToClear(t *testing.T) {
	d := newTestDevice(t)

	d.irq.Raise(protocol.IRQFenceComplete)
	d.irq.Raise(protocol.IRQError)
	if got := d.ReadBAR0(protocol.RegIRQStatus); got != protocol.IRQFenceComplete|protocol.IRQError {
		t.Fatalf("IRQStatus = %#x, want both bits set", got)
	}

	d.WriteBAR0(protocol.RegIRQStatus, protocol.IRQFenceComplete)
	if got := d.ReadBAR0(protocol.RegIRQStatus); got != protocol.IRQError {
		t.Fatalf("IRQStatus after ack = %#x, want only IRQError", got)
	}
}

func TestDeviceResetReinitializesPointersNotFeatures(t *testing.T) {
	d := newTestDevice(t)
	d.region.Ctrl.SetProducerPtr(500)
	d.region.Ctrl.SetConsumerPtr(100)
	d.region.Ctrl.SetHostFenceCompleted(42)

	d.WriteBAR0(protocol.RegReset, 1)

	if d.region.Ctrl.ProducerPtr() != 0 || d.region.Ctrl.ConsumerPtr() != 0 {
		t.Fatal("reset did not clear producer/consumer pointers")
	}
	if d.region.Ctrl.HostFenceCompleted() != 0 {
		t.Fatal("reset did not clear host_fence_completed")
	}
	if d.ReadBAR0(protocol.RegFeatures) != uint32(protocol.FeaturesMVP) {
		t.Fatal("reset must not renegotiate features")
	}
	if got := d.ReadBAR0(protocol.RegStatus); got != protocol.StatusReady {
		t.Fatalf("RegStatus after reset = %#x, want StatusReady", got)
	}
}

func TestDeviceIRQMaskSuppressesNotifyNotStatus(t *testing.T) {
	var notified []uint32
	path := filepath.Join(t.TempDir(), "pvgpu.shm")
	region, err := shmem.Create(path, 1<<20, 64<<10)
	if err != nil {
		t.Fatalf("shmem.Create: %v", err)
	}
	t.Cleanup(func() { region.Close() })
	d := NewDevice(region, protocol.FeaturesMVP, func(v uint32) { notified = append(notified, v) })

	d.WriteBAR0(protocol.RegIRQMask, protocol.IRQFenceComplete)
	d.irq.Raise(protocol.IRQFenceComplete)

	if got := d.ReadBAR0(protocol.RegIRQStatus); got != protocol.IRQFenceComplete {
		t.Fatalf("IRQStatus = %#x, want IRQFenceComplete latched even though masked", got)
	}
	if len(notified) != 0 {
		t.Fatalf("notify fired %d times, want 0 (vector is masked)", len(notified))
	}

	d.irq.Raise(protocol.IRQError)
	if len(notified) != 1 || notified[0] != protocol.IRQError {
		t.Fatalf("notified = %v, want exactly one IRQError delivery (unmasked vector)", notified)
	}
}

func TestDeviceDoorbellHook(t *testing.T) {
	d := newTestDevice(t)
	called := false
	d.SetDoorbellHook(func() { called = true })
	d.WriteBAR0(protocol.RegDoorbell, 1)
	if !called {
		t.Fatal("doorbell write did not invoke the installed hook")
	}
}

func TestDeviceDoorbellWithoutHookIsNoop(t *testing.T) {
	d := newTestDevice(t)
	d.WriteBAR0(protocol.RegDoorbell, 1) // must not panic
}
