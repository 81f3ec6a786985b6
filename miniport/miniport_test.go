package miniport

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/templarsco/pvgpu/emulator"
	"github.com/templarsco/pvgpu/protocol"
	"github.com/templarsco/pvgpu/shmem"
)

func newTestMiniport(t *testing.T) (*Miniport, *emulator.Device) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pvgpu.shm")
	region, err := shmem.Create(path, 1<<20, 64<<10)
	if err != nil {
		t.Fatalf("shmem.Create: %v", err)
	}
	t.Cleanup(func() { region.Close() })

	device := emulator.NewDevice(region, protocol.FeaturesMVP, nil)
	mp, err := New(device, region)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mp, device
}

func TestNewRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pvgpu.shm")
	region, err := shmem.Create(path, 1<<20, 64<<10)
	if err != nil {
		t.Fatalf("shmem.Create: %v", err)
	}
	defer region.Close()

	// Create always stamps protocol.Magic, so hand New a region whose
	// control block was never initialized: a zero-valued ControlRegion's
	// Magic() is 0, not protocol.Magic.
	var blank protocol.ControlRegion
	if _, err := New(nil, &shmem.Region{Ctrl: &blank}); err != ErrBadMagic {
		t.Fatalf("New() error = %v, want ErrBadMagic", err)
	}
}

func TestGetShmemInfoReportsGeometry(t *testing.T) {
	mp, _ := newTestMiniport(t)
	reply := mp.GetShmemInfo(protocol.EscapeGetShmemInfoRequest{})
	if reply.Header.Status != protocol.ErrorSuccess {
		t.Fatalf("status = %#x, want success", reply.Header.Status)
	}
	if reply.RingSize != 64<<10 {
		t.Fatalf("RingSize = %d, want %d", reply.RingSize, 64<<10)
	}
	if reply.HeapSize == 0 {
		t.Fatal("HeapSize must be non-zero")
	}
	if reply.Features != protocol.FeaturesMVP {
		t.Fatalf("Features = %#x, want %#x", reply.Features, protocol.FeaturesMVP)
	}
}

func TestAllocFreeHeapRoundTrip(t *testing.T) {
	mp, _ := newTestMiniport(t)

	allocReply := mp.AllocHeap(protocol.EscapeAllocHeapRequest{Size: 4096, Alignment: 4096})
	if allocReply.Header.Status != protocol.ErrorSuccess {
		t.Fatalf("alloc status = %#x", allocReply.Header.Status)
	}
	if allocReply.Offset%shmem.BlockSize != 0 {
		t.Fatalf("offset %d not block-aligned", allocReply.Offset)
	}

	freeReply := mp.FreeHeap(protocol.EscapeFreeHeapRequest{Offset: allocReply.Offset, Size: allocReply.Size})
	if freeReply.Header.Status != protocol.ErrorSuccess {
		t.Fatalf("free status = %#x", freeReply.Header.Status)
	}

	// freeing the same block twice must fail
	freeAgain := mp.FreeHeap(protocol.EscapeFreeHeapRequest{Offset: allocReply.Offset, Size: allocReply.Size})
	if freeAgain.Header.Status != protocol.ErrorInvalidParameter {
		t.Fatalf("double free status = %#x, want ErrorInvalidParameter", freeAgain.Header.Status)
	}
}

func TestAllocHeapExhaustion(t *testing.T) {
	mp, _ := newTestMiniport(t)
	info := mp.GetShmemInfo(protocol.EscapeGetShmemInfoRequest{})

	reply := mp.AllocHeap(protocol.EscapeAllocHeapRequest{Size: info.HeapSize, Alignment: 4096})
	if reply.Header.Status != protocol.ErrorSuccess {
		t.Fatalf("first alloc of entire heap failed: %#x", reply.Header.Status)
	}

	exhausted := mp.AllocHeap(protocol.EscapeAllocHeapRequest{Size: 4096, Alignment: 4096})
	if exhausted.Header.Status != protocol.ErrorOutOfMemory {
		t.Fatalf("status = %#x, want ErrorOutOfMemory", exhausted.Header.Status)
	}
}

func TestSubmitCommandsPushesToRing(t *testing.T) {
	mp, device := newTestMiniport(t)

	cmd := protocol.CmdFence{
		Header:     protocol.CommandHeader{CommandType: protocol.CmdTypeFence, CommandSize: 24},
		FenceValue: 3,
	}
	raw := protocol.Encode(&cmd)

	reply := mp.SubmitCommands(raw)
	if reply.Header.Status != protocol.ErrorSuccess {
		t.Fatalf("submit status = %#x", reply.Header.Status)
	}
	if device.Region().Ctrl.ProducerPtr() == 0 {
		t.Fatal("producer pointer did not advance after submit")
	}
}

func TestSubmitCommandsDiscardedAfterShutdown(t *testing.T) {
	mp, device := newTestMiniport(t)
	device.Region().Ctrl.SetStatus(device.Region().Ctrl.Status() | protocol.StatusShutdownPending)

	cmd := protocol.CmdFence{Header: protocol.CommandHeader{CommandType: protocol.CmdTypeFence, CommandSize: 24}}
	reply := mp.SubmitCommands(protocol.Encode(&cmd))
	if reply.Header.Status != protocol.ErrorDeviceLost {
		t.Fatalf("status = %#x, want ErrorDeviceLost", reply.Header.Status)
	}
	if device.Region().Ctrl.ProducerPtr() != 0 {
		t.Fatal("producer pointer advanced despite device being removed")
	}
}

func TestWaitFenceAbortsOnNonZeroErrorCode(t *testing.T) {
	mp, device := newTestMiniport(t)
	device.Region().Ctrl.SetErrorCode(protocol.ErrorInvalidCommand)

	reply := mp.WaitFence(protocol.EscapeWaitFenceRequest{Target: 1, TimeoutMS: 500})
	if reply.Header.Status != protocol.ErrorDeviceLost {
		t.Fatalf("status = %#x, want ErrorDeviceLost", reply.Header.Status)
	}
}

func TestWaitFenceFastPath(t *testing.T) {
	mp, device := newTestMiniport(t)
	device.Region().Ctrl.SetHostFenceCompleted(10)

	reply := mp.WaitFence(protocol.EscapeWaitFenceRequest{Target: 5, TimeoutMS: 100})
	if reply.Header.Status != protocol.ErrorSuccess {
		t.Fatalf("status = %#x, want success", reply.Header.Status)
	}
	if reply.Completed != 10 {
		t.Fatalf("Completed = %d, want 10", reply.Completed)
	}
}

func TestWaitFencePollsUntilCompletion(t *testing.T) {
	mp, device := newTestMiniport(t)

	go func() {
		time.Sleep(5 * time.Millisecond)
		device.Region().Ctrl.SetHostFenceCompleted(7)
	}()

	reply := mp.WaitFence(protocol.EscapeWaitFenceRequest{Target: 7, TimeoutMS: 500})
	if reply.Header.Status != protocol.ErrorSuccess {
		t.Fatalf("status = %#x, want success", reply.Header.Status)
	}
}

func TestWaitFenceTimesOut(t *testing.T) {
	mp, _ := newTestMiniport(t)

	reply := mp.WaitFence(protocol.EscapeWaitFenceRequest{Target: 999, TimeoutMS: 20})
	if reply.Header.Status != protocol.ErrorTimeout {
		t.Fatalf("status = %#x, want ErrorTimeout", reply.Header.Status)
	}
}

func TestWaitFenceAbortsOnDeviceLost(t *testing.T) {
	mp, device := newTestMiniport(t)
	device.Region().Ctrl.SetStatus(device.Region().Ctrl.Status() | protocol.StatusDeviceLost)

	reply := mp.WaitFence(protocol.EscapeWaitFenceRequest{Target: 1, TimeoutMS: 500})
	if reply.Header.Status != protocol.ErrorDeviceLost {
		t.Fatalf("status = %#x, want ErrorDeviceLost", reply.Header.Status)
	}
}

func TestSetDisplayModeRejectsZeroFields(t *testing.T) {
	mp, _ := newTestMiniport(t)

	reply := mp.SetDisplayMode(protocol.EscapeSetDisplayModeRequest{Width: 0, Height: 1080, Refresh: 60})
	if reply.Header.Status != protocol.ErrorInvalidParameter {
		t.Fatalf("status = %#x, want ErrorInvalidParameter", reply.Header.Status)
	}
}

func TestSetDisplayModeAccepted(t *testing.T) {
	mp, device := newTestMiniport(t)

	reply := mp.SetDisplayMode(protocol.EscapeSetDisplayModeRequest{Width: 1920, Height: 1080, Refresh: 60, Format: 1})
	if reply.Header.Status != protocol.ErrorSuccess {
		t.Fatalf("status = %#x, want success", reply.Header.Status)
	}
	mode := device.Region().Ctrl.DisplayMode()
	if mode.Width != 1920 || mode.Height != 1080 {
		t.Fatalf("DisplayMode = %+v, want 1920x1080", mode)
	}
}

func TestIsStandardMode(t *testing.T) {
	if !IsStandardMode(1920, 1080, 60) {
		t.Fatalf("1920x1080@60 should be a standard mode")
	}
	if IsStandardMode(1337, 42, 60) {
		t.Fatalf("1337x42@60 should not be a standard mode")
	}
}

func TestRingDoorbellWritesRegister(t *testing.T) {
	mp, device := newTestMiniport(t)
	rang := false
	device.SetDoorbellHook(func() { rang = true })

	reply := mp.RingDoorbell()
	if reply.Header.Status != protocol.ErrorSuccess {
		t.Fatalf("status = %#x", reply.Header.Status)
	}
	if !rang {
		t.Fatal("RingDoorbell did not invoke the device's doorbell hook")
	}
}

func TestHandleInterruptAcksAndQueuesFenceNotify(t *testing.T) {
	mp, device := newTestMiniport(t)
	device.Region().Ctrl.SetHostFenceCompleted(9)
	device.WriteBAR0(protocol.RegIRQMask, protocol.IRQFenceComplete)
	device.IRQ().Raise(protocol.IRQFenceComplete)

	if !mp.HandleInterrupt() {
		t.Fatal("HandleInterrupt reported no pending IRQ")
	}
	if device.ReadBAR0(protocol.RegIRQStatus) != 0 {
		t.Fatal("HandleInterrupt did not acknowledge IRQ_STATUS")
	}

	var notified []uint32
	mp.DeferredNotify(func(f uint32) { notified = append(notified, f) })
	if len(notified) != 1 || notified[0] != 9 {
		t.Fatalf("notified = %v, want [9]", notified)
	}

	if mp.HandleInterrupt() {
		t.Fatal("second HandleInterrupt call should see no pending IRQ")
	}
}
