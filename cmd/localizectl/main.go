// localizectl runs one localization pipeline pass: freeze, translate,
// validate, repair, rehydrate, and emit the final CSV plus its supporting
// reports.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/localize-orchestrator/pkg/orchestrator"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("LOCALIZE_CONFIG", "./run.yaml"), "Path to the run configuration file")
	envPath := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to an env file to load before reading configuration")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", *envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", *envPath)
	}

	cfg, err := orchestrator.LoadRunConfig(*configPath)
	if err != nil {
		log.Printf("Failed to load run configuration: %v", err)
		os.Exit(orchestrator.ExitConfigError)
	}

	o, err := orchestrator.New(cfg, nil)
	if err != nil {
		log.Printf("Failed to initialize orchestrator: %v", err)
		os.Exit(orchestrator.ExitConfigError)
	}
	defer o.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	exitCode, runErr := o.Run(ctx)
	if runErr != nil {
		log.Printf("Run finished with error: %v", runErr)
	}
	os.Exit(exitCode)
}
