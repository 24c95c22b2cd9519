package main

import "github.com/TRQoder/cofounder/cmd/cofounder/cli"

func main() {
	cli.Execute()
}
