// Package main is the single-binary entrypoint. The same binary serves as
// controller (mindstrike serve) and as the spawned inference worker
// (hidden worker subcommand).
package main

import "github.com/sengac/mindstrike-sub006/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
