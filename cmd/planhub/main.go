package main

import (
	"planhub/cmd/cli"
)

func main() {
	cli.Execute()
}
