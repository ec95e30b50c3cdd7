package main

import (
	"os"

	"github.com/wesleyorama2/steadyrate/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
