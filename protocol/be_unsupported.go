//go:build !(amd64 || arm64 || 386 || arm || riscv64 || loong64 || mipsle || mips64le || ppc64le || wasm)

package protocol

// The control region and command payloads are read via unsafe.Pointer
// overlays onto shared memory, which assumes little-endian byte order to
// match the wire format negotiated with the host.
var _ = "pvgpu requires a little-endian architecture" + 1
