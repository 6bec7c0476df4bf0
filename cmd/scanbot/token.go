// ABOUTME: The token subcommand mints admin API tokens from the configured secret
// ABOUTME: Prints the token to stdout so it can be captured into SCANBOT_TOKEN

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/scanbot/internal/auth"
)

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "operator name recorded in the token (required)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	name := strings.TrimSpace(*subject)
	if name == "" {
		return fmt.Errorf("--subject is required")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured; the admin API is open")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(name, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintf(os.Stderr, "%s token for %q, expires %s\n",
		color.GreenString("✓"), name, time.Now().Add(*ttl).Format(time.RFC3339))
	fmt.Println(token)
	return nil
}
