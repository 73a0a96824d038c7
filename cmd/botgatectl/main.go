package main

import "botgate/internal/cli"

func main() {
	cli.Execute()
}
