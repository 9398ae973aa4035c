package main

import (
	"os"

	"github.com/Egham-7/token-gate/internal/config"
)

func main() {
	config.LoadEnvFiles([]string{".env.local", ".env"})

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
