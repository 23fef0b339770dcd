package main

import (
	"os"

	"github.com/quietvoice/prism/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
