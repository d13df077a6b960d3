package main

import (
	"os"

	"github.com/lazypower/nanobrain/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
