package main

import "github.com/fleetcomply/fleetcomply/internal/cli"

func main() {
	cli.Execute()
}
