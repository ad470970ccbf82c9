// Command hotpatch runs a tick loop whose systems and records can be patched
// while it runs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/hotpatch/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
