package main

import (
	"os"

	"github.com/kazuyaegusa/8891-screen-shot/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
