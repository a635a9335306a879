// Package main is the entry point for the opsgate CLI binary.
package main

import (
	"os"

	cli "opsgate/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
