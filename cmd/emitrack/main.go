package main

import (
	"os"

	"github.com/facturaelec/emitrack/cmd/emitrack/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
