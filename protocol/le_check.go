//go:build amd64 || arm64 || 386 || arm || riscv64 || loong64 || mipsle || mips64le || ppc64le || wasm

// This file compiles on known little-endian targets. The sibling file
// be_unsupported.go contains a deliberate compile error for any
// architecture not listed here.

package protocol
