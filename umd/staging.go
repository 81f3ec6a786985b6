package umd

import (
	"github.com/templarsco/pvgpu/protocol"
)

// stagingBufferSize is the per-device command batching buffer size,
// matching PVGPU_UMD_COMMAND_BUFFER_SIZE from the guest UMD source this
// was distilled from.
const stagingBufferSize = 256 * 1024

// StagingBuffer accumulates 16-byte-aligned commands before a batch is
// handed to the broker's SubmitCommands escape, mirroring
// PvgpuWriteCommand's staging-buffer-then-FlushCommandBuffer split: one
// ring push per batch instead of one per command.
type StagingBuffer struct {
	buf    []byte
	offset int
}

// NewStagingBuffer allocates a fresh, empty staging buffer.
func NewStagingBuffer() *StagingBuffer {
	return &StagingBuffer{buf: make([]byte, stagingBufferSize)}
}

// Fits reports whether payload (rounded to its 16-byte-aligned size) can
// be appended without overflowing the buffer.
func (s *StagingBuffer) Fits(payload []byte) bool {
	aligned := int(protocol.Align16(uint32(len(payload))))
	return s.offset+aligned <= len(s.buf)
}

// WriteCommand appends payload, zero-padded up to its aligned size.
// Callers must check Fits first; Flush the buffer when it doesn't.
func (s *StagingBuffer) WriteCommand(payload []byte) {
	aligned := int(protocol.Align16(uint32(len(payload))))
	copy(s.buf[s.offset:], payload)
	for i := len(payload); i < aligned; i++ {
		s.buf[s.offset+i] = 0
	}
	s.offset += aligned
}

// Bytes returns the staged commands written so far.
func (s *StagingBuffer) Bytes() []byte { return s.buf[:s.offset] }

// Len reports how many bytes are currently staged.
func (s *StagingBuffer) Len() int { return s.offset }

// Reset clears the staged bytes without reallocating the buffer.
func (s *StagingBuffer) Reset() { s.offset = 0 }
