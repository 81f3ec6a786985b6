package emulator

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/templarsco/pvgpu/protocol"
)

func TestBackendConnHandshake(t *testing.T) {
	dir := t.TempDir()
	device := newTestDevice(t)
	sockPath := filepath.Join(dir, "backend.sock")

	bc, err := NewBackendConn(sockPath, device)
	if err != nil {
		t.Fatalf("NewBackendConn: %v", err)
	}
	bc.Start()
	defer bc.Stop()

	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, payload, err := protocol.ReadFrame(conn)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if msgType != protocol.MsgHandshake {
		t.Fatalf("msgType = %d, want protocol.MsgHandshake", msgType)
	}
	shmemSize, shmemName, err := protocol.DecodeHandshake(payload)
	if err != nil {
		t.Fatalf("DecodeHandshake: %v", err)
	}
	if shmemName != device.region.Path {
		t.Fatalf("shmemName = %q, want %q", shmemName, device.region.Path)
	}
	if shmemSize == 0 {
		t.Fatal("shmemSize = 0, want the region's actual size")
	}

	if err := protocol.WriteFrame(conn, protocol.MsgHandshakeAck, protocol.EncodeHandshakeAck(protocol.FeaturesMVP|protocol.FeatureHDR)); err != nil {
		t.Fatalf("write handshake ack: %v", err)
	}

	// Give handleConn a moment to process the ack before inspecting status.
	time.Sleep(50 * time.Millisecond)

	if got := device.region.Ctrl.Features(); got != protocol.FeaturesMVP {
		t.Fatalf("negotiated features = %#x, want %#x (HDR not offered by device)", got, protocol.FeaturesMVP)
	}
	if device.region.Ctrl.Status()&protocol.StatusBackendConn == 0 {
		t.Fatal("status register did not gain StatusBackendConn after handshake")
	}
}

func TestBackendConnHandshakeRejectsMissingD3D11(t *testing.T) {
	dir := t.TempDir()
	device := newTestDevice(t)
	sockPath := filepath.Join(dir, "backend.sock")

	bc, err := NewBackendConn(sockPath, device)
	if err != nil {
		t.Fatalf("NewBackendConn: %v", err)
	}
	bc.Start()
	defer bc.Stop()

	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if msgType, _, err := protocol.ReadFrame(conn); err != nil || msgType != protocol.MsgHandshake {
		t.Fatalf("handshake: type=%d err=%v", msgType, err)
	}

	if err := protocol.WriteFrame(conn, protocol.MsgHandshakeAck, protocol.EncodeHandshakeAck(protocol.FeatureCompute)); err != nil {
		t.Fatalf("write handshake ack: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if device.region.Ctrl.Status()&protocol.StatusBackendConn != 0 {
		t.Fatal("status register gained StatusBackendConn despite ack missing FEATURE_D3D11")
	}
}

func TestBackendConnDoorbellForwarding(t *testing.T) {
	dir := t.TempDir()
	device := newTestDevice(t)
	sockPath := filepath.Join(dir, "backend.sock")

	bc, err := NewBackendConn(sockPath, device)
	if err != nil {
		t.Fatalf("NewBackendConn: %v", err)
	}
	bc.Start()
	defer bc.Stop()

	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if msgType, _, err := protocol.ReadFrame(conn); err != nil || msgType != protocol.MsgHandshake {
		t.Fatalf("handshake: type=%d err=%v", msgType, err)
	}
	if err := protocol.WriteFrame(conn, protocol.MsgHandshakeAck, protocol.EncodeHandshakeAck(protocol.FeaturesMVP)); err != nil {
		t.Fatalf("write handshake ack: %v", err)
	}

	device.WriteBAR0(protocol.RegDoorbell, 1)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, _, err := protocol.ReadFrame(conn)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if msgType != protocol.MsgDoorbell {
		t.Fatalf("msgType = %d, want protocol.MsgDoorbell", msgType)
	}
}

func TestBackendConnShutdownSetsShutdownPending(t *testing.T) {
	dir := t.TempDir()
	device := newTestDevice(t)
	sockPath := filepath.Join(dir, "backend.sock")

	bc, err := NewBackendConn(sockPath, device)
	if err != nil {
		t.Fatalf("NewBackendConn: %v", err)
	}
	bc.Start()
	defer bc.Stop()

	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if msgType, _, err := protocol.ReadFrame(conn); err != nil || msgType != protocol.MsgHandshake {
		t.Fatalf("handshake: type=%d err=%v", msgType, err)
	}
	if err := protocol.WriteFrame(conn, protocol.MsgHandshakeAck, protocol.EncodeHandshakeAck(protocol.FeaturesMVP)); err != nil {
		t.Fatalf("write handshake ack: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if device.region.Ctrl.Status()&protocol.StatusBackendConn == 0 {
		t.Fatal("handshake did not complete before shutdown test")
	}

	if err := protocol.WriteFrame(conn, protocol.MsgShutdown, nil); err != nil {
		t.Fatalf("write shutdown: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	status := device.region.Ctrl.Status()
	if status&protocol.StatusShutdownPending == 0 {
		t.Fatalf("status = %#x, want StatusShutdownPending set", status)
	}
	if status&protocol.StatusBackendConn != 0 {
		t.Fatalf("status = %#x, want StatusBackendConn clear", status)
	}
}
