package protocol

import "unsafe"

// byteOffset returns a pointer to the field at byte offset off from base,
// the same raw-memory overlay idiom machine_bus.go and audio_chip.go use to
// let their hot paths address cache-line-padded registers without going
// through encoding/binary on every access.
func byteOffset(base *byte, off int) unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(base)) + uintptr(off))
}
