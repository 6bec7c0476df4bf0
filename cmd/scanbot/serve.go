// ABOUTME: The serve subcommand: prints startup info and runs the server until signalled
// ABOUTME: Logging is configured here from the loaded config

package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/2389/scanbot/internal/server"
)

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, source, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}
	line("Config", source)
	line("Database", cfg.Database.Path)
	line("HTTP", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		line("gRPC", cfg.Server.GRPCAddr)
	}
	line("Scan", fmt.Sprintf("%d x %s", cfg.Scan.Steps, cfg.Scan.StepDuration))
	if cfg.Telegram.Enabled {
		line("Telegram", "enabled")
	}
	if cfg.Matrix.Enabled {
		line("Matrix", cfg.Matrix.UserID)
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ⚠ ")
		fmt.Println("Admin API is unauthenticated (auth.jwt_secret not set)")
	}
	fmt.Println()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}
