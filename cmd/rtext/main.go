package main

import (
	"os"

	"github.com/rtext-lang/rtext/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
