package main

import "github.com/pickabook/pickabook-agent/internal/cli"

func main() {
	cli.Execute()
}
