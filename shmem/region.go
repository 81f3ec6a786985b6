package shmem

import (
	"os"

	"github.com/templarsco/pvgpu/protocol"
)

// Region is a shared-memory-backed window: the control region at offset 0,
// the command ring, and the resource heap, all mapped over the same
// backing file so the emulator process and the backend process (the two
// ends of a real VM's guest/host split, collapsed here into two
// cooperating processes) observe each other's writes without copying.
//
// Grounded on hanwen-go-fuse/vhostuser/deviceregion.go's
// syscall.Mmap + unix.Madvise pairing for describing a virtio-style shared
// guest memory region over an fd; platform-specific mapping lives in
// region_unix.go / region_windows.go.
type Region struct {
	file *os.File
	data []byte

	// Path is the backing file's path, communicated to the backend over
	// the HANDSHAKE message's shmem_name field (§4.3) so it can Open the
	// same region without an out-of-band channel.
	Path string

	Ctrl *protocol.ControlRegion
	Ring []byte
	Heap []byte
}
