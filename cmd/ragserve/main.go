package main

import (
	"os"

	"ragserve/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
