package main

import (
	"os"

	"github.com/patrykstefanski/async-bench/internal/cli"
)

// run executes the command line args and returns the process exit code.
func run(args []string) int {
	cli.RootCmd.SetArgs(args)
	if err := cli.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
