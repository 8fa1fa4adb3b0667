package main

import (
	"os"

	"github.com/zeus-ci/zeus/internal/cli"
)

func main() {
	if err := cli.New().Execute(); err != nil {
		os.Exit(1)
	}
}
