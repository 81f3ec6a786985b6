package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Backend IPC message types (§6: backend IPC framing). Framing is a fixed
// 8-byte header {msg_type uint32, payload_size uint32} followed by
// payload_size bytes, little-endian throughout — the same header shape as
// vhost-user's Header{Request,Flags,Size} (hanwen-go-fuse/vhostuser/
// types.go), trimmed to the two fields this much smaller message set
// needs.
const (
	MsgHandshake    uint32 = 1 // device -> backend: shmem geometry and name
	MsgHandshakeAck uint32 = 2 // backend -> device: supported features
	MsgDoorbell     uint32 = 3 // device -> backend: new ring commands available
	MsgIRQ          uint32 = 4 // backend -> device: vector to raise
	MsgShutdown     uint32 = 5 // either direction: connection ending
)

// FrameHeaderSize is the size in bytes of the IPC frame header.
const FrameHeaderSize = 8

// EncodeHandshake builds the HANDSHAKE payload: {u64 shmem_size, char[]
// shmem_name_zero_terminated} (§4.3), sent by the device once a backend
// connects so it can open the same shared-memory region without an
// out-of-band channel.
func EncodeHandshake(shmemSize uint64, shmemName string) []byte {
	buf := make([]byte, 8+len(shmemName)+1)
	binary.LittleEndian.PutUint64(buf[0:8], shmemSize)
	copy(buf[8:], shmemName)
	return buf
}

// DecodeHandshake parses a HANDSHAKE payload built by EncodeHandshake.
func DecodeHandshake(payload []byte) (shmemSize uint64, shmemName string, err error) {
	if len(payload) < 9 {
		return 0, "", fmt.Errorf("protocol: handshake payload too short (%d bytes)", len(payload))
	}
	shmemSize = binary.LittleEndian.Uint64(payload[0:8])
	name := payload[8:]
	if nul := bytes.IndexByte(name, 0); nul >= 0 {
		name = name[:nul]
	}
	return shmemSize, string(name), nil
}

// EncodeHandshakeAck builds the HANDSHAKE_ACK payload: {u64 features}
// (§4.3), the backend's own supported feature bitmap. The device
// validates this includes at least FeatureD3D11 before marking itself
// connected.
func EncodeHandshakeAck(features uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, features)
	return buf
}

// DecodeHandshakeAck parses a HANDSHAKE_ACK payload built by
// EncodeHandshakeAck.
func DecodeHandshakeAck(payload []byte) (features uint64, err error) {
	if len(payload) < 8 {
		return 0, fmt.Errorf("protocol: handshake-ack payload too short (%d bytes)", len(payload))
	}
	return binary.LittleEndian.Uint64(payload), nil
}

// WriteFrame writes one IPC message to w.
func WriteFrame(w io.Writer, msgType uint32, payload []byte) error {
	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], msgType)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[FrameHeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one IPC message from r.
func ReadFrame(r io.Reader) (msgType uint32, payload []byte, err error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	msgType = binary.LittleEndian.Uint32(hdr[0:4])
	size := binary.LittleEndian.Uint32(hdr[4:8])
	if size == 0 {
		return msgType, nil, nil
	}
	payload = make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return msgType, payload, nil
}
