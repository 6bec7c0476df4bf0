// ABOUTME: Entry point for scanbot, the chat-driven scan service
// ABOUTME: Dispatches the serve, health, token, and scans subcommands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/2389/scanbot/internal/config"
)

// Version is set at build time.
var version = "dev"

const banner = `
  ___  ___ __ _ _ __ | |__   ___ | |_
 / __|/ __/ _' | '_ \| '_ \ / _ \| __|
 \__ \ (_| (_| | | | | |_) | (_) | |_
 |___/\___\__,_|_| |_|_.__/ \___/ \__|
`

const usage = `Usage: scanbot <command>

Commands:
  serve                            Start the bot
  health [--grpc]                  Check a running instance
  token --subject NAME [--ttl 24h] Mint an admin API token
  scans [--conversation KEY] [--limit N] [--active]
                                   List scan history from a running instance
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	// A missing .env is normal in production
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx, args)
	case "token":
		err = runToken(args)
	case "scans":
		err = runScans(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the config file to load, or "" to configure from the
// environment alone. Priority: SCANBOT_CONFIG > ./scanbot.yaml > ./scanbot.toml
func getConfigPath() string {
	if envPath := os.Getenv("SCANBOT_CONFIG"); envPath != "" {
		return envPath
	}
	for _, candidate := range []string{"scanbot.yaml", "scanbot.toml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	if path == "" {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("configuring from environment: %w", err)
		}
		return cfg, "(environment)", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}
