package main

import (
	"os"

	"github.com/soundprediction/go-cortex/cmd/cortex"
)

func main() {
	if err := cortex.Execute(); err != nil {
		os.Exit(1)
	}
}
