package main

import (
	"os"

	"github.com/sqlward/sqlward/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}