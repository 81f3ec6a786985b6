// Package backend implements a reference host backend: it drains the
// command ring and applies commands to an in-memory shadow of GPU state,
// advancing fences as it goes, without doing real D3D11/Vulkan rendering
// (out of scope per spec.md §1). It plays the role VoodooEngine plays in
// the teacher repo — register/command-driven state tracking in front of a
// pluggable rendering backend — generalized from Voodoo SST-1 register
// semantics to PVGPU ring-command semantics.
package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/templarsco/pvgpu/protocol"
	"github.com/templarsco/pvgpu/shmem"
)

// ErrUnknownCommand and ErrResourceNotFound are the sentinel errors Apply
// returns for the two failure modes §7's error-propagation path names;
// drainOnce maps them to a protocol error code and surfaces them through
// the control region instead of only logging them.
var (
	ErrUnknownCommand   = errors.New("backend: unknown command type")
	ErrResourceNotFound = errors.New("backend: resource not found")
)

// errorCode maps an Apply error to the ControlRegion error code §7 says the
// backend must set alongside status.ERROR. Errors that don't match either
// sentinel (e.g. a Drain I/O error) fall back to ErrorUnknown.
func errorCode(err error) uint32 {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return protocol.ErrorInvalidCommand
	case errors.Is(err, ErrResourceNotFound):
		return protocol.ErrorResourceNotFound
	default:
		return protocol.ErrorUnknown
	}
}

// ResourceState mirrors a single CREATE_RESOURCE's description, matching
// §3's resource state mirror fields.
type ResourceState struct {
	Type         uint32
	Format       uint32
	Width        uint32
	Height       uint32
	Depth        uint32
	MipLevels    uint32
	BindFlags    uint32
	BytecodeSize uint32 // populated for shader resource types
	Mapped       bool
}

// Engine is the drain-side state shadow: one ResourceState per live
// handle, plus the subset of pipeline state commands mutate. It has no
// rendering backend of its own; Apply only bookkeeps, the same shape
// VoodooEngine's shadow registers have before a batch is flushed to
// Vulkan, minus the flush.
type Engine struct {
	mu        sync.Mutex
	resources map[uint32]*ResourceState
	topology  uint32
	drawCalls uint64
}

func NewEngine() *Engine {
	return &Engine{resources: make(map[uint32]*ResourceState)}
}

// Apply interprets one ring command against the shadow state. Unknown
// command types are reported but do not abort the drain, matching the
// emulator's general stance that one bad command shouldn't wedge the
// whole ring (the fence for that command simply never signals if the
// guest requested one).
func (e *Engine) Apply(header protocol.CommandHeader, raw []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch header.CommandType {
	case protocol.CmdTypeCreateResource:
		cmd := protocol.Cast[protocol.CmdCreateResource](raw)
		e.resources[header.ResourceID] = &ResourceState{
			Type: cmd.ResourceType, Format: cmd.Format,
			Width: cmd.Width, Height: cmd.Height, Depth: cmd.Depth,
			MipLevels: cmd.MipLevels, BindFlags: cmd.BindFlags,
			BytecodeSize: cmd.DataSize,
		}
	case protocol.CmdTypeDestroyResource:
		if _, ok := e.resources[header.ResourceID]; !ok {
			return fmt.Errorf("%w: handle %#x", ErrResourceNotFound, header.ResourceID)
		}
		delete(e.resources, header.ResourceID)
	case protocol.CmdTypeMapResource:
		r, ok := e.resources[header.ResourceID]
		if !ok {
			return fmt.Errorf("%w: handle %#x", ErrResourceNotFound, header.ResourceID)
		}
		r.Mapped = true
	case protocol.CmdTypeUnmapResource:
		r, ok := e.resources[header.ResourceID]
		if !ok {
			return fmt.Errorf("%w: handle %#x", ErrResourceNotFound, header.ResourceID)
		}
		r.Mapped = false
	case protocol.CmdTypeSetPrimitiveTopology:
		cmd := protocol.Cast[protocol.CmdSetPrimitiveTopology](raw)
		e.topology = cmd.Topology
	case protocol.CmdTypeDraw, protocol.CmdTypeDrawIndexed, protocol.CmdTypeDrawInstanced,
		protocol.CmdTypeDrawIndexedInstanced, protocol.CmdTypeDispatch:
		e.drawCalls++
	case protocol.CmdTypeFence, protocol.CmdTypePresent, protocol.CmdTypeFlush, protocol.CmdTypeWaitFence,
		protocol.CmdTypeUpdateResource, protocol.CmdTypeCopyResource, protocol.CmdTypeCopyResourceRegion,
		protocol.CmdTypeSetRenderTarget, protocol.CmdTypeSetViewport, protocol.CmdTypeSetScissor,
		protocol.CmdTypeSetBlendState, protocol.CmdTypeSetRasterizerState, protocol.CmdTypeSetDepthStencil,
		protocol.CmdTypeSetShader, protocol.CmdTypeSetSampler, protocol.CmdTypeSetConstantBuffer,
		protocol.CmdTypeSetVertexBuffer, protocol.CmdTypeSetIndexBuffer, protocol.CmdTypeSetInputLayout,
		protocol.CmdTypeSetShaderResource, protocol.CmdTypeClearRenderTarget, protocol.CmdTypeClearDepthStencil:
		// Bookkept as accepted, no further shadow state required for a
		// non-rendering backend.
	default:
		return fmt.Errorf("%w: %#x", ErrUnknownCommand, header.CommandType)
	}
	return nil
}

// ResourceCount and DrawCalls are test/diagnostic hooks.
func (e *Engine) ResourceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.resources)
}

func (e *Engine) DrawCalls() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drawCalls
}

// Drainer connects to an emulator's BackendConn socket, handshakes, and
// then drains the ring on every DOORBELL notification (and once at
// startup, in case commands were already queued).
// PollInterval is the backstop drain period in Run's poll loop, covering
// doorbell notifications the host coalesces or loses under load.
const PollInterval = 50 * time.Millisecond

type Drainer struct {
	conn   net.Conn
	region *shmem.Region
	ring   *shmem.Ring
	engine *Engine

	drainMu sync.Mutex

	Debug bool
}

// Dial connects to sockPath, completes the device-initiated handshake
// (§4.3: the device sends HANDSHAKE with the shmem geometry and name, the
// backend acks with its supported features), opens the shared-memory
// region the device named, and wires up the ring.
func Dial(sockPath string, supportedFeatures uint64) (*Drainer, error) {
	conn, err := net.DialTimeout("unix", sockPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("backend: dial %s: %w", sockPath, err)
	}

	shmemPath, err := handshake(conn, supportedFeatures)
	if err != nil {
		conn.Close()
		return nil, err
	}

	region, err := shmem.Open(shmemPath)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("backend: open shared memory: %w", err)
	}

	ring, err := shmem.NewRing(region.Ctrl, region.Ring)
	if err != nil {
		conn.Close()
		region.Close()
		return nil, err
	}

	return &Drainer{conn: conn, region: region, ring: ring, engine: NewEngine()}, nil
}

// handshake reads the device's HANDSHAKE, decodes the shmem geometry and
// name, and acks with supportedFeatures. It returns the shmem path to open.
func handshake(conn net.Conn, supportedFeatures uint64) (shmemPath string, err error) {
	msgType, payload, err := protocol.ReadFrame(conn)
	if err != nil {
		return "", err
	}
	if msgType != protocol.MsgHandshake {
		return "", fmt.Errorf("backend: unexpected handshake message type=%d", msgType)
	}
	_, shmemName, err := protocol.DecodeHandshake(payload)
	if err != nil {
		return "", err
	}
	if err := protocol.WriteFrame(conn, protocol.MsgHandshakeAck, protocol.EncodeHandshakeAck(supportedFeatures)); err != nil {
		return "", err
	}
	return shmemName, nil
}

// Engine exposes the drain-side shadow state, mainly for tests.
func (d *Drainer) Engine() *Engine { return d.engine }

// Close tears down the connection and unmaps shared memory.
func (d *Drainer) Close() error {
	err := d.conn.Close()
	if cerr := d.region.Close(); err == nil {
		err = cerr
	}
	return err
}

// Run drains once for commands queued before it started, then drains the
// ring until the connection closes or a SHUTDOWN message arrives. Two
// goroutines cooperate under an errgroup: readLoop drains on every
// DOORBELL notification, while pollLoop re-drains on a fixed interval as a
// backstop against doorbells the host coalesces or drops under load.
// Either goroutine exiting stops the other: readLoop cancels pollLoop via
// ctx, and a pollLoop error expires the connection's read deadline so
// readLoop's pending read fails.
func (d *Drainer) Run() error {
	if err := d.drainOnce(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return d.readLoop()
	})
	g.Go(func() error {
		err := d.pollLoop(gctx)
		if err != nil {
			d.conn.SetReadDeadline(time.Now())
		}
		return err
	})
	return g.Wait()
}

func (d *Drainer) readLoop() error {
	for {
		msgType, _, err := protocol.ReadFrame(d.conn)
		if err != nil {
			return err
		}
		switch msgType {
		case protocol.MsgDoorbell:
			if err := d.drainOnce(); err != nil {
				return err
			}
		case protocol.MsgShutdown:
			return nil
		default:
			if d.Debug {
				log.Printf("backend: unhandled message type %d", msgType)
			}
		}
	}
}

func (d *Drainer) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.drainOnce(); err != nil {
				return err
			}
		}
	}
}

func (d *Drainer) drainOnce() error {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()

	var lastFence uint64
	sawFence := false

	err := d.ring.Drain(func(header protocol.CommandHeader, raw []byte) error {
		if err := d.engine.Apply(header, raw); err != nil {
			if d.Debug {
				log.Printf("backend: %v", err)
			}
			// §7: drop the command, set status.ERROR and error_code, and
			// raise IRQError so the guest's asynchronous error path fires
			// instead of the command silently vanishing.
			ctrl := d.region.Ctrl
			ctrl.SetErrorCode(errorCode(err))
			ctrl.SetStatus(ctrl.Status() | protocol.StatusError)
			protocol.WriteFrame(d.conn, protocol.MsgIRQ, irqErrorPayload())
			return nil // keep draining; a bad command does not wedge the ring
		}
		if header.CommandType == protocol.CmdTypeFence {
			cmd := protocol.Cast[protocol.CmdFence](raw)
			lastFence = cmd.FenceValue
			sawFence = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if sawFence {
		d.region.Ctrl.SetHostFenceCompleted(lastFence)
		protocol.WriteFrame(d.conn, protocol.MsgIRQ, irqFenceCompletePayload())
	}
	return nil
}

func irqFenceCompletePayload() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, protocol.IRQFenceComplete)
	return buf
}

func irqErrorPayload() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, protocol.IRQError)
	return buf
}
