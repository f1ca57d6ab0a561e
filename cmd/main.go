package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/mediq/model-gateway/internal/cli"
)

func main() {
	configPath := "./config.yaml"
	if env := os.Getenv("GATEWAY_CONFIG"); env != "" {
		configPath = env
	} else if home, err := os.UserHomeDir(); err == nil {
		configPath = filepath.Join(home, ".model-gateway", "config.yaml")
	}

	c := cli.NewCLI(configPath)
	if err := c.Run(os.Args); err != nil {
		log.Printf("错误: %v\n", err)
		os.Exit(1)
	}
}
