package main

import (
	"os"

	"github.com/tobyv/researchmem/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
