// agentctl talks to the host over the agent socket from the command line.
// Usage:
//
//	agentctl send '{"type":"log","message":"hi"}'
//	agentctl request '{"type":"getVector"}' --expect getVectorResponse
//	agentctl listen --type notify
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
