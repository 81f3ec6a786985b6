//go:build unix

package shmem

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/templarsco/pvgpu/protocol"
)

// Create truncates (or creates) path to size bytes and maps it shared,
// initializing a fresh control region describing the ring/heap split.
// ringSize is the byte length of the command ring carved out of the
// region immediately after the 4KB control region; pass
// protocol.CommandRingSize for the real 16MB ring, or a smaller value in
// tests that don't need production-sized shared memory. Used by the side
// that owns the shared-memory lifetime (the emulator).
func Create(path string, size, ringSize uint32) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmem: open %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shmem: truncate %s to %d: %w", path, size, err)
	}

	r, err := mapFile(f, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.Path = path

	ringOffset := uint32(protocol.ControlRegionSize)
	heapOffset := ringOffset + ringSize
	if uint64(heapOffset) >= uint64(size) {
		r.Close()
		return nil, fmt.Errorf("shmem: region size %d too small for control region + ring of %d", size, ringSize)
	}
	heapSize := size - heapOffset

	r.Ctrl.Init(ringOffset, ringSize, heapOffset, heapSize)
	r.Ring = r.data[ringOffset : ringOffset+ringSize]
	r.Heap = r.data[heapOffset:]
	return r, nil
}

// Open maps an already-initialized region (created by Create in another
// process) and reads the ring/heap geometry back out of its control
// region. Used by the side that attaches to existing shared memory (the
// backend).
func Open(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmem: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	r, err := mapFile(f, uint32(info.Size()))
	if err != nil {
		f.Close()
		return nil, err
	}
	r.Path = path
	if r.Ctrl.Magic() != protocol.Magic {
		r.Close()
		return nil, fmt.Errorf("shmem: %s does not contain a valid control region (magic %#x)", path, r.Ctrl.Magic())
	}

	ringOffset, ringSize := r.Ctrl.RingOffset(), r.Ctrl.RingSize()
	heapOffset, heapSize := r.Ctrl.HeapOffset(), r.Ctrl.HeapSize()
	r.Ring = r.data[ringOffset : ringOffset+ringSize]
	r.Heap = r.data[heapOffset : heapOffset+heapSize]
	return r, nil
}

func mapFile(f *os.File, size uint32) (*Region, error) {
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shmem: mmap: %w", err)
	}
	syscall.Madvise(data, unix.MADV_DONTDUMP)

	return &Region{
		file: f,
		data: data,
		Ctrl: (*protocol.ControlRegion)(unsafe_ctrlOverlay(data)),
	}, nil
}

// Close unmaps the region and closes the backing file.
func (r *Region) Close() error {
	var err error
	if r.data != nil {
		err = syscall.Munmap(r.data)
		r.data = nil
	}
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
