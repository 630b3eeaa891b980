package main

import "mismobridge/internal/cli"

func main() {
	cli.Execute()
}
