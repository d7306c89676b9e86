package main

import (
	"os"

	"github.com/telhawk-systems/telhawk-etl/etl/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
