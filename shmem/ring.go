// Package shmem implements the shared-memory substrate shared by the
// guest and host sides of the protocol: the command ring and the resource
// heap, both carved out of a single mmap'd region whose layout is
// described by a protocol.ControlRegion at offset 0.
package shmem

import (
	"errors"
	"fmt"

	"github.com/templarsco/pvgpu/protocol"
)

// ErrRingFull is returned when a write would lap the consumer.
var ErrRingFull = errors.New("shmem: command ring full")

// ErrOversizedCommand is returned when a single command is larger than the
// entire ring.
var ErrOversizedCommand = errors.New("shmem: command larger than ring capacity")

// Ring is a single-producer/single-consumer byte ring. One side (the guest
// UMD via the miniport) calls Push; the other (the host backend) calls
// Drain. producer_ptr and consumer_ptr are monotonically increasing byte
// counters stored in the control region; the ring position is always their
// value modulo the ring size, so wraparound never needs an explicit
// "is full" flag distinct from "is empty" the way a naive head==tail
// design would.
type Ring struct {
	ctrl *protocol.ControlRegion
	buf  []byte // window into shared memory, length == ctrl.RingSize()
}

// NewRing wraps the ring window described by ctrl. buf must have length
// ctrl.RingSize().
func NewRing(ctrl *protocol.ControlRegion, buf []byte) (*Ring, error) {
	if uint32(len(buf)) != ctrl.RingSize() {
		return nil, fmt.Errorf("shmem: ring buffer length %d does not match control region ring_size %d", len(buf), ctrl.RingSize())
	}
	return &Ring{ctrl: ctrl, buf: buf}, nil
}

// Push appends a 16-byte-aligned command to the ring. Called by the guest
// side under whatever external lock serializes producers (SubmitCommands
// in package miniport); Ring itself assumes a single producer.
func (r *Ring) Push(data []byte) error {
	size := protocol.Align16(uint32(len(data)))
	if uint64(size) > uint64(len(r.buf)) {
		return ErrOversizedCommand
	}
	if !r.ctrl.RingHasSpace(size) {
		return ErrRingFull
	}

	producer := r.ctrl.ProducerPtr()
	start := producer % uint64(len(r.buf))
	end := start + uint64(len(data))
	if end <= uint64(len(r.buf)) {
		copy(r.buf[start:end], data)
	} else {
		firstLen := uint64(len(r.buf)) - start
		copy(r.buf[start:], data[:firstLen])
		copy(r.buf[:uint64(len(data))-firstLen], data[firstLen:])
	}

	// Release: publish the new producer position only after the payload
	// bytes are visible, so the consumer never reads a partially written
	// command.
	r.ctrl.SetProducerPtr(producer + uint64(size))
	return nil
}

// Drain calls fn once for every complete command currently available,
// advancing consumer_ptr as it goes. fn receives a CommandHeader read from
// the ring plus the raw bytes (header included) of that command; it must
// not retain the slice past the call, since a wrapped command is returned
// in a scratch buffer reused across calls.
func (r *Ring) Drain(fn func(header protocol.CommandHeader, raw []byte) error) error {
	scratch := make([]byte, 0, 4096)
	for {
		producer := r.ctrl.ProducerPtr()
		consumer := r.ctrl.ConsumerPtr()
		if consumer == producer {
			return nil
		}
		if producer-consumer < protocol.CmdHeaderSize {
			return fmt.Errorf("shmem: ring has %d bytes pending, short of a command header", producer-consumer)
		}

		headerBuf := r.read(consumer, protocol.CmdHeaderSize, scratch[:0])
		header := *protocol.Cast[protocol.CommandHeader](headerBuf)
		if header.CommandSize < protocol.CmdHeaderSize {
			return fmt.Errorf("shmem: command at ring offset %d has invalid size %d", consumer%uint64(len(r.buf)), header.CommandSize)
		}
		aligned := uint64(protocol.Align16(header.CommandSize))
		if producer-consumer < aligned {
			return nil // rest of the command hasn't been published yet
		}

		raw := r.read(consumer, aligned, scratch[:0])
		if err := fn(header, raw[:header.CommandSize]); err != nil {
			return err
		}
		r.ctrl.SetConsumerPtr(consumer + aligned)
	}
}

// read copies n bytes starting at the ring-relative byte offset start into
// dst (growing it as needed), handling wraparound.
func (r *Ring) read(start uint64, n uint64, dst []byte) []byte {
	off := start % uint64(len(r.buf))
	dst = dst[:0]
	if off+n <= uint64(len(r.buf)) {
		return append(dst, r.buf[off:off+n]...)
	}
	firstLen := uint64(len(r.buf)) - off
	dst = append(dst, r.buf[off:]...)
	dst = append(dst, r.buf[:n-firstLen]...)
	return dst
}
