// Command pvgpu-backend attaches to a running pvgpu-emulator over its
// Unix domain socket, maps the same shared-memory region, and drains
// the command ring, applying every command to an in-process shadow
// engine. It stands in for the renderer process a real paravirtualized
// GPU backend would hand commands off to.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/templarsco/pvgpu/protocol"

	"github.com/templarsco/pvgpu/backend"
)

func main() {
	socketPath := flag.String("socket", "/tmp/pvgpu-backend.sock", "emulator backend IPC socket path")
	debug := flag.Bool("debug", false, "log rejected commands and unhandled IPC messages")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pvgpu-backend [options]\n\nDials a running pvgpu-emulator, learns the shared-memory region to\nattach to from the HANDSHAKE message, and drains its command ring.\n\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	drainer, err := backend.Dial(*socketPath, protocol.FeaturesMVP)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: dial emulator: %v\n", err)
		os.Exit(1)
	}
	defer drainer.Close()
	drainer.Debug = *debug

	log.Printf("pvgpu-backend: attached to %s", *socketPath)

	if err := drainer.Run(); err != nil {
		log.Printf("pvgpu-backend: drain loop exited: %v", err)
		os.Exit(1)
	}
}
