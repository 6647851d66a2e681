package main

import (
	"os"

	"github.com/shiftsad/gameserver/cmd/tag/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
