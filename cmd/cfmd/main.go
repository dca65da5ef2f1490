package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cfm-engine/internal/api"
	"cfm-engine/internal/app"
	"cfm-engine/internal/config"
	"cfm-engine/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file (built-in defaults when empty)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	tokenFor := flag.String("token", "", "print a bearer token for this account id and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed with -token")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if *tokenFor != "" {
		token, err := api.IssueToken(cfg.API.JWTSecret, *tokenFor, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded", zap.String("path", *configPath), zap.Int("markets", len(cfg.Markets)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	log.Info("app initialized")

	if err := application.Run(ctx); err != nil {
		log.Error("app terminated", zap.Error(err))
		os.Exit(1)
	}
}
