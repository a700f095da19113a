// Command gephgui is the Geph desktop control plane.
//
// Build with a version: go build -ldflags "-X gephgui/internal/cli.version=5.0.1" ./cmd/gephgui
package main

import "gephgui/internal/cli"

func main() {
	cli.Execute()
}
