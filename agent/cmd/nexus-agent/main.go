// Command nexus-agent hosts PTY sessions on a remote host and streams them
// to a Nexus hub over a WebSocket connection.
package main

import (
	"fmt"
	"os"

	"github.com/nexus-relay/nexus/agent/internal/cmd"
)

var version = "dev"

func main() {
	root := cmd.NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
