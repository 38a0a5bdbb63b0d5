package main

import (
	"os"

	"example.com/touchpoints/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
