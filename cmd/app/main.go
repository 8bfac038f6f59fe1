package main

import (
	"flag"
	"log"
	"os"

	"MTBridge/internal/di"
	"MTBridge/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "config file path (overrides -live)")
	var live bool
	flag.BoolVar(&live, "live", false, "use the live config")
	flag.BoolVar(&live, "l", false, "shorthand for -live")
	flag.Parse()

	// Load config
	path := config.ResolvePath(*configPath, live)
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		log.Fatalf("config load failed (%s): %v", path, err)
	}

	log.Printf("env=%s source=%s config=%s", cfg.Environment, cfg.Source.Type, path)

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
