package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"walletd/internal/config"
	"walletd/internal/ledger"
	"walletd/internal/remote"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	target := flag.String("target", "local", "Schema to migrate: local (device ledger) or remote (authoritative store)")
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Error: migration command is required")
		fmt.Println("Usage: go run cmd/migrate/main.go [-target local|remote] [command]")
		fmt.Println("Commands: up, down, status, redo")
		os.Exit(1)
	}

	command := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	log.Printf("Starting %s migration: %s", *target, command)

	switch *target {
	case "local":
		err = ledger.RunMigrations(ctx, cfg.LocalDSN(), command)
	case "remote":
		err = remote.RunMigrations(ctx, cfg.RemoteDSN, command)
	default:
		log.Fatalf("Unknown target %q, must be local or remote", *target)
	}
	if err != nil {
		log.Fatalf("Migration error: %v", err)
	}

	fmt.Println("Migration finished successfully")
}
