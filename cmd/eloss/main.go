package main

import "github.com/timzifer/eloss/internal/cli"

func main() {
	cli.Execute()
}
