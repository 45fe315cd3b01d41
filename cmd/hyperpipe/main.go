// Command hyperpipe is a thin CLI entry point over the engine package: it
// loads a topology file and runtime config, then drives a Supervisor
// through the lifecycle operations the library exposes. It is not a
// dashboard or interactive front-end — just argv-to-library-call plumbing.
package main

import "hyperpipe/cmd/hyperpipe/cli"

func main() {
	cli.Execute()
}
