package emulator

import (
	"sync"

	"github.com/templarsco/pvgpu/protocol"
)

// IRQNotifier delivers a simulated interrupt to whatever is standing in
// for the guest (the miniport, in-process, or a message over BackendConn
// for a separate process). vector is one of protocol.IRQFenceComplete or
// protocol.IRQError.
type IRQNotifier func(vector uint32)

// IRQController tracks latched, level-triggered interrupt status bits and
// raises notifications through an IRQNotifier, mirroring the split
// between a quick interrupt acknowledgement and the real work done later
// that the guest-side miniport package also follows (see
// miniport.Miniport.HandleInterrupt / deferredNotify).
type IRQController struct {
	mu     sync.Mutex
	status uint32
	mask   uint32
	notify IRQNotifier
}

func NewIRQController(notify IRQNotifier) *IRQController {
	return &IRQController{notify: notify}
}

// Raise latches vector into IRQ_STATUS unconditionally (a masked vector
// still shows up on a guest poll of IRQ_STATUS) but only fires the
// notifier — the MSI-X/INTx delivery — when vector is not set in
// IRQ_MASK, matching REG_IRQ_MASK's documented job of suppressing
// delivery, not suppressing the status bit.
func (c *IRQController) Raise(vector uint32) {
	c.mu.Lock()
	c.status |= vector
	masked := c.mask&vector != 0
	notify := c.notify
	c.mu.Unlock()

	if notify != nil && !masked {
		notify(vector)
	}
}

// SetMask installs the IRQ_MASK register value.
func (c *IRQController) SetMask(mask uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mask = mask
}

// Mask reads back the current IRQ_MASK register value.
func (c *IRQController) Mask() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mask
}

// Acknowledge clears the bits set in mask from IRQ_STATUS (write-1-to-clear
// semantics of PVGPU_REG_IRQ_STATUS).
func (c *IRQController) Acknowledge(mask uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status &^= mask
}

func (c *IRQController) Status() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *IRQController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = 0
}

// RaiseFenceComplete and RaiseError are convenience wrappers for the two
// defined vectors (§4.3, §6).
func (c *IRQController) RaiseFenceComplete() { c.Raise(protocol.IRQFenceComplete) }
func (c *IRQController) RaiseError()         { c.Raise(protocol.IRQError) }
