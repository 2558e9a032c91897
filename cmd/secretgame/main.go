package main

import "github.com/mcoot/secretgame/internal/cli"

func main() {
	cli.Execute()
}
