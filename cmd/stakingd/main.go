// Command stakingd runs the staking ledger HTTP daemon.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/staking_ledger/internal/app/runtime"
	"github.com/R3E-Network/staking_ledger/internal/config"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := runtime.NewApplication(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	runErr := app.Run(ctx)
	stop()
	if runErr != nil {
		log.Printf("Server error: %v", runErr)
	}

	log.Println("Shutting down...")
	if err := app.Shutdown(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	if runErr != nil {
		log.Fatalf("Exited with error: %v", runErr)
	}
}
