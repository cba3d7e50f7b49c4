package main

import (
	"os"

	"github.com/gracexichen/L-Store-Database/cmd"
)

func main() {
	if cmd.Execute() != nil {
		os.Exit(1)
	}
}
