package main

import (
	"fmt"
	"os"

	"nepse-simulator/internal/cli"
	"nepse-simulator/internal/logging"
)

func main() {
	root := cli.NewRootCmd(logging.NewLogger())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
