package main

import (
	"os"

	"ai-things/audio-go/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args))
}
