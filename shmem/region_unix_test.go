//go:build unix

package shmem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/templarsco/pvgpu/protocol"
)

func TestRegionCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pvgpu.shm")

	created, err := Create(path, 1<<20, 64<<10)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer created.Close()

	if created.Ctrl.Magic() != protocol.Magic {
		t.Fatalf("created region magic = %#x, want %#x", created.Ctrl.Magic(), protocol.Magic)
	}
	created.Ctrl.SetFeatures(protocol.FeaturesMVP)

	opened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer opened.Close()

	if opened.Ctrl.Features() != protocol.FeaturesMVP {
		t.Fatalf("opened region features = %#x, want %#x", opened.Ctrl.Features(), protocol.FeaturesMVP)
	}
	if len(opened.Ring) != len(created.Ring) || len(opened.Heap) != len(created.Heap) {
		t.Fatalf("opened region geometry does not match created region")
	}

	// Writes through the opener's ring window must be visible through the
	// creator's, since both map the same file MAP_SHARED.
	opened.Ring[0] = 0xAB
	if created.Ring[0] != 0xAB {
		t.Fatalf("ring write via opened mapping not visible via created mapping")
	}
}

func TestRegionOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.shm")
	created, err := Create(path, 1<<20, 64<<10)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	created.Close()

	f, err := os.OpenFile(path, os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("corrupt magic: %v", err)
	}
	if _, err := f.WriteAt(make([]byte, 4), 0); err != nil {
		t.Fatalf("corrupt magic: %v", err)
	}
	f.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected Open to reject a region with a corrupted magic")
	}
}
