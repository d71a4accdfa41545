package main

import (
	"os"

	"github.com/Swind/go-fiber-runner/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
