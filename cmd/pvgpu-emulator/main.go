// Command pvgpu-emulator hosts the PVGPU device model: it creates the
// shared-memory region, exposes BAR0 register semantics in-process, and
// listens for a single backend process to attach over a Unix domain
// socket. It is the standalone equivalent of what a real VMM would
// embed directly; here it runs as its own process so pvgpu-backend can
// be developed and restarted independently.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/templarsco/pvgpu/emulator"
	"github.com/templarsco/pvgpu/protocol"
	"github.com/templarsco/pvgpu/shmem"
)

func main() {
	shmemPath := flag.String("shmem-path", "/tmp/pvgpu.shm", "path to the shared-memory backing file")
	shmemSize := flag.Uint64("shmem-size", protocol.DefaultShmemSize, "total shared-memory region size, in bytes")
	ringSize := flag.Uint64("ring-size", protocol.CommandRingSize, "command ring size, in bytes")
	socketPath := flag.String("socket", "/tmp/pvgpu-backend.sock", "backend IPC socket path")
	debug := flag.Bool("debug", false, "log every backend IPC frame and unhandled message")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pvgpu-emulator [options]\n\nHosts the PVGPU device model and waits for a backend to attach.\n\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	region, err := shmem.Create(*shmemPath, uint32(*shmemSize), uint32(*ringSize))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: create shared memory: %v\n", err)
		os.Exit(1)
	}
	defer region.Close()

	device := emulator.NewDevice(region, protocol.FeaturesMVP, func(vector uint32) {
		if *debug {
			log.Printf("emulator: IRQ vector %#x raised", vector)
		}
	})

	bc, err := emulator.NewBackendConn(*socketPath, device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: bind backend socket: %v\n", err)
		os.Exit(1)
	}
	bc.Debug = *debug
	bc.Start()

	log.Printf("pvgpu-emulator: shared memory at %s (%d bytes, %d-byte ring), backend socket at %s",
		*shmemPath, *shmemSize, *ringSize, *socketPath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Printf("pvgpu-emulator: shutting down")
	bc.Stop()
}
