package main

import (
	"os"

	"call-grader-go/internal/logger"
)

func main() {
	logger.SetDefaultOutput(os.Stderr)
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
