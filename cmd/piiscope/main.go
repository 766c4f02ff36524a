package main

import (
	"os"

	"github.com/straja-ai/piiscope/internal/cli"
	"github.com/straja-ai/piiscope/internal/redact"
)

func main() {
	if err := cli.Execute(); err != nil {
		redact.Errorf("piiscope: %v", err)
		os.Exit(1)
	}
}
