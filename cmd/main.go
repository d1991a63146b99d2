package main

import (
	"os"

	"github.com/soundprediction/graphqa/cmd/graphqa"
)

func main() {
	if err := graphqa.Execute(); err != nil {
		os.Exit(1)
	}
}
