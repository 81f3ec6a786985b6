package emulator

import (
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/templarsco/pvgpu/protocol"
)

// BackendConn listens for a single host backend process to attach over a
// Unix domain socket, performs the feature-negotiation handshake, and
// forwards doorbell notifications and IRQ signals between it and a
// Device. Structured after runtime_ipc.go's IPCServer: same stale-socket
// cleanup on bind, same accept-loop-in-a-goroutine shape, same Stop()
// teardown — generalized from IPCServer's single JSON "open" command to
// the binary message types in protocol.MsgHandshake and friends.
type BackendConn struct {
	listener net.Listener
	sockPath string
	device   *Device
	done     chan struct{}
	eg       *errgroup.Group

	mu        sync.Mutex
	conn      net.Conn
	connected bool

	Debug bool
}

// NewBackendConn binds sockPath, removing a stale socket left by a
// previous crashed instance the way IPCServer.newIPCServerAt does.
func NewBackendConn(sockPath string, device *Device) (*BackendConn, error) {
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		conn, dialErr := net.DialTimeout("unix", sockPath, 2*time.Second)
		if dialErr != nil {
			os.Remove(sockPath)
			ln, err = net.Listen("unix", sockPath)
			if err != nil {
				return nil, fmt.Errorf("emulator: backend ipc bind failed: %w", err)
			}
		} else {
			conn.Close()
			return nil, fmt.Errorf("emulator: a backend is already connected at %s", sockPath)
		}
	}

	bc := &BackendConn{listener: ln, sockPath: sockPath, device: device, done: make(chan struct{}), eg: new(errgroup.Group)}
	device.SetDoorbellHook(bc.notifyDoorbell)
	return bc, nil
}

// Start accepts backend connections in the background. Only one backend
// connects at a time; a second connection attempt is rejected.
func (bc *BackendConn) Start() {
	go bc.acceptLoop()
}

// Stop closes the listener and waits for the accept loop to exit, closes
// the active connection if any, waits on the errgroup for its connection
// handler to return, and removes the socket file.
func (bc *BackendConn) Stop() {
	bc.listener.Close()
	<-bc.done
	bc.mu.Lock()
	if bc.conn != nil {
		bc.conn.Close()
	}
	bc.mu.Unlock()
	bc.eg.Wait()
	os.Remove(bc.sockPath)
}

func (bc *BackendConn) acceptLoop() {
	defer close(bc.done)
	for {
		conn, err := bc.listener.Accept()
		if err != nil {
			return
		}

		bc.mu.Lock()
		if bc.connected {
			bc.mu.Unlock()
			protocol.WriteFrame(conn, protocol.MsgShutdown, nil)
			conn.Close()
			continue
		}
		bc.conn = conn
		bc.connected = true
		bc.mu.Unlock()

		bc.eg.Go(func() error { return bc.handleConn(conn) })
	}
}

func (bc *BackendConn) handleConn(conn net.Conn) error {
	defer func() {
		bc.mu.Lock()
		bc.connected = false
		bc.conn = nil
		bc.mu.Unlock()
		conn.Close()
	}()

	if !bc.handshake(conn) {
		return nil
	}

	for {
		msgType, payload, err := protocol.ReadFrame(conn)
		if err != nil {
			// The connection dropped: STATUS reads the same as after a
			// SHUTDOWN message.
			ctrl := bc.device.region.Ctrl
			ctrl.SetStatus((ctrl.Status() &^ protocol.StatusBackendConn) | protocol.StatusShutdownPending)
			return nil // connection closed, not a handler failure
		}
		if bc.Debug {
			log.Printf("emulator: backend ipc rx type=%d size=%d", msgType, len(payload))
		}

		switch msgType {
		case protocol.MsgIRQ:
			if len(payload) < 4 {
				continue
			}
			vector := binary.LittleEndian.Uint32(payload)
			bc.device.irq.Raise(vector)
		case protocol.MsgShutdown:
			// §8 Scenario 6: the backend is going away. STATUS shows
			// SHUTDOWN_PENDING set and BACKEND_CONN clear, the same as when
			// the connection drops.
			ctrl := bc.device.region.Ctrl
			ctrl.SetStatus((ctrl.Status() &^ protocol.StatusBackendConn) | protocol.StatusShutdownPending)
			return nil
		default:
			if bc.Debug {
				log.Printf("emulator: unknown backend message type %d", msgType)
			}
		}
	}
}

// handshake drives the device side of the §4.3 handshake: the device sends
// HANDSHAKE first, carrying the shmem geometry and backing file name so the
// backend can attach without an out-of-band channel, then waits for
// HANDSHAKE_ACK carrying the backend's supported features. The ack must
// offer at least FeatureD3D11 or the connection is left non-connected but
// responsive (STATUS is not touched, so BAR0 reads keep showing a backend
// absent) rather than torn down outright, matching §4.3's "else stay
// non-connected-but-responsive" wording.
func (bc *BackendConn) handshake(conn net.Conn) bool {
	region := bc.device.region
	shmemSize := uint64(len(region.Ring) + len(region.Heap) + protocol.ControlRegionSize)
	if err := protocol.WriteFrame(conn, protocol.MsgHandshake, protocol.EncodeHandshake(shmemSize, region.Path)); err != nil {
		return false
	}

	msgType, payload, err := protocol.ReadFrame(conn)
	if err != nil || msgType != protocol.MsgHandshakeAck {
		return false
	}
	backendFeatures, err := protocol.DecodeHandshakeAck(payload)
	if err != nil {
		return false
	}
	if backendFeatures&protocol.FeatureD3D11 == 0 {
		if bc.Debug {
			log.Printf("emulator: backend ack %#x missing FEATURE_D3D11, staying non-connected", backendFeatures)
		}
		return false
	}

	negotiated := backendFeatures & region.Ctrl.Features()
	region.Ctrl.SetFeatures(negotiated)
	region.Ctrl.SetStatus(region.Ctrl.Status() | protocol.StatusBackendConn | protocol.StatusReady)
	return true
}

// notifyDoorbell forwards a DOORBELL message to the connected backend, if
// any. Called from Device.onDoorbell, which is itself called with
// Device.mu held — notifyDoorbell must not block on anything that could
// call back into Device, and WriteFrame's only blocking point is the
// socket write.
func (bc *BackendConn) notifyDoorbell() {
	bc.mu.Lock()
	conn := bc.conn
	bc.mu.Unlock()
	if conn == nil {
		return
	}
	protocol.WriteFrame(conn, protocol.MsgDoorbell, nil)
}
