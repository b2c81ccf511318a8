// Command durable runs and drives replay-based durable workflows.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/durable/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil && !cli.IsReported(err) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
