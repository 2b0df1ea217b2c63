package main

import (
	"github.com/priyankadasarigt/ytdown/internal/cli"
	_ "go.uber.org/automaxprocs"
)

var version = "dev"

// main is the entry point to the program. All command handling
// lives in internal/cli.
func main() {
	cli.Execute(version)
}
