// Command schedulerd runs the scheduler daemon and doubles as the
// control-plane client for an already-running instance: "schedulerd
// serve" starts the daemon, every other subcommand talks to one over
// its control socket (spec §6).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
