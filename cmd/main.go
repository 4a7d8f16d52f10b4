package main

import (
	"os"

	"github.com/soundprediction/piqa/cmd/piqa"
)

func main() {
	if err := piqa.Execute(); err != nil {
		os.Exit(1)
	}
}
