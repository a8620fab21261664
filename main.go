package main

import (
	"os"

	"github.com/xpose-agent/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
