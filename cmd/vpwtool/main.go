package main

import "github.com/flashkit/vpwcore/cmd/vpwtool/cmd"

func main() {
	cmd.Execute()
}
