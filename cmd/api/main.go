package main

import (
	"github.com/Egham-7/token-gate/internal/config"
	pkgconfig "github.com/Egham-7/token-gate/pkg/config"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

func main() {
	// Load environment files explicitly
	envFiles := []string{".env.local", ".env.development", ".env"}
	config.LoadEnvFiles(envFiles)

	cfg, err := config.LoadFromFile("config.yaml")
	if err != nil {
		fiberlog.Fatalf("Failed to load config: %v", err)
	}

	server := pkgconfig.NewServer(cfg)

	fiberlog.Info("Starting token-gate server...")
	if err := server.Run(); err != nil {
		fiberlog.Fatalf("Server failed: %v", err)
	}
}
