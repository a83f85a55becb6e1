package main

import (
	"os"

	"github.com/eternalApril/moonwire/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
