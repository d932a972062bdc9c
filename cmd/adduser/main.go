// Package main provides a CLI tool for creating player accounts or resetting
// their passwords.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cory-johannsen/rps/internal/auth"
	"github.com/cory-johannsen/rps/internal/config"
	"github.com/cory-johannsen/rps/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	username := flag.String("username", "", "account username (required)")
	password := flag.String("password", "", "account password (required)")
	reset := flag.Bool("reset", false, "replace the password of an existing account")
	hashOnly := flag.Bool("hash-only", false, "print a users file entry instead of writing to the database")
	flag.Parse()

	if *username == "" || *password == "" {
		flag.Usage()
		os.Exit(1)
	}
	name := auth.NormalizeUsername(*username)

	if *hashOnly {
		hash, err := auth.HashPassword(*password)
		if err != nil {
			log.Fatalf("hashing password: %v", err)
		}
		fmt.Fprintf(os.Stdout, "  - username: %s\n    password_hash: %q\n", name, hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := postgres.NewAccountStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer repo.Close()

	if *reset {
		if err := repo.SetPassword(ctx, name, *password); err != nil {
			if errors.Is(err, postgres.ErrAccountNotFound) {
				log.Fatalf("account %q does not exist", name)
			}
			log.Fatalf("resetting password: %v", err)
		}
		fmt.Fprintf(os.Stdout, "password reset for %s [%s]\n", name, time.Since(start))
		return
	}

	acct, err := repo.Create(ctx, name, *password)
	if err != nil {
		if errors.Is(err, postgres.ErrAccountExists) {
			log.Fatalf("account %q already exists; use -reset to change its password", name)
		}
		log.Fatalf("creating account: %v", err)
	}
	fmt.Fprintf(os.Stdout, "created account %s (#%d) [%s]\n", acct.Username, acct.ID, time.Since(start))
}
