package main

import (
	"fmt"
	"os"

	"github.com/lydakis/sidecar/internal/cli"
	"github.com/lydakis/sidecar/internal/daemon"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "__daemon" {
		if err := daemon.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "sidecar daemon: %v\n", err)
			os.Exit(1)
		}
		return
	}

	os.Exit(cli.Run(os.Args[1:]))
}
