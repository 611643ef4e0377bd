// Command agentbridge drives Claude, Codex and Cursor CLI agents through one
// event model.
//
// Commands:
//   - chat: talk to a backend from the terminal
//   - serve: expose sessions over WebSocket
//   - schema: print the JSON Schema of events or the config file
//   - version: print the build version
package main

import (
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
