package main

import "github.com/upb/tracex/internal/cli"

func main() {
	cli.Execute()
}
