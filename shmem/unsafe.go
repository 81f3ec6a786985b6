package shmem

import "unsafe"

// unsafe_ctrlOverlay returns a pointer to a protocol.ControlRegion at the
// start of a shared-memory mapping, the same raw overlay idiom
// protocol.Cast uses for command payloads.
func unsafe_ctrlOverlay(data []byte) unsafe.Pointer {
	return unsafe.Pointer(&data[0])
}
