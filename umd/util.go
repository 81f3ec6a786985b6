package umd

import "unsafe"

// structSize returns the wire size of a command payload struct, used to
// populate CommandHeader.CommandSize without hardcoding byte counts that
// would drift if a struct's fields ever change.
func structSize[T any](v T) uintptr {
	return unsafe.Sizeof(v)
}
