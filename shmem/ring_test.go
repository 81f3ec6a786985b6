package shmem

import (
	"bytes"
	"testing"

	"github.com/templarsco/pvgpu/protocol"
)

func newTestRing(t *testing.T, size uint32) (*protocol.ControlRegion, *Ring) {
	t.Helper()
	var ctrl protocol.ControlRegion
	ctrl.Init(0, size, 0, 0)
	buf := make([]byte, size)
	r, err := NewRing(&ctrl, buf)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	return &ctrl, r
}

func makeDraw(vertexCount uint32) []byte {
	cmd := protocol.CmdDraw{
		Header:      protocol.CommandHeader{CommandType: protocol.CmdTypeDraw, CommandSize: 32},
		VertexCount: vertexCount,
	}
	return protocol.Encode(&cmd)
}

func TestRingPushDrainBasic(t *testing.T) {
	_, r := newTestRing(t, 256)

	want := makeDraw(3)
	if err := r.Push(want); err != nil {
		t.Fatalf("Push: %v", err)
	}

	var got []byte
	err := r.Drain(func(h protocol.CommandHeader, raw []byte) error {
		got = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("drained %x, want %x", got, want)
	}
}

func TestRingWraparound(t *testing.T) {
	const size = 64
	_, r := newTestRing(t, size)

	// Push commands until the producer pointer has wrapped past the end
	// of the ring, draining after each push so the ring never fills.
	for i := 0; i < 20; i++ {
		cmd := makeDraw(uint32(i))
		if err := r.Push(cmd); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		var got []byte
		if err := r.Drain(func(h protocol.CommandHeader, raw []byte) error {
			got = append([]byte(nil), raw...)
			return nil
		}); err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
		if !bytes.Equal(got, cmd) {
			t.Fatalf("iteration %d: drained %x, want %x", i, got, cmd)
		}
	}
}

func TestRingFullRejectsPush(t *testing.T) {
	_, r := newTestRing(t, 32)
	// A command of exactly ring_size bytes fits an empty ring; once the
	// ring is full, the next push is refused.
	if err := r.Push(make([]byte, 32)); err != nil {
		t.Fatalf("push of exactly ring_size bytes: %v", err)
	}
	if err := r.Push(make([]byte, 16)); err != ErrRingFull {
		t.Fatalf("push into full ring = %v, want ErrRingFull", err)
	}
}

func TestRingOversizedCommand(t *testing.T) {
	_, r := newTestRing(t, 16)
	if err := r.Push(make([]byte, 32)); err != ErrOversizedCommand {
		t.Fatalf("Push() = %v, want ErrOversizedCommand", err)
	}
}

func TestRingBackpressure(t *testing.T) {
	_, r := newTestRing(t, 48)
	cmd := makeDraw(0) // 32 bytes aligned
	if err := r.Push(cmd); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := r.Push(cmd); err != ErrRingFull {
		t.Fatalf("second push = %v, want ErrRingFull", err)
	}
}
