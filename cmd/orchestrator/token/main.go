package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/swapall/bridge-orchestrator/pkg/auth"
	"github.com/swapall/bridge-orchestrator/pkg/config"
)

// Issues an API bearer token signed with the configured secret. Meant for
// operators handing out access to the orchestrator API.
func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	subject := flag.String("subject", "", "Subject claim for the issued token")
	ttl := flag.Duration("ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Auth.Enabled() {
		fmt.Fprintln(os.Stderr, "auth.jwt_secret is not configured, nothing to issue")
		os.Exit(1)
	}
	if *subject == "" {
		fmt.Fprintln(os.Stderr, "-subject is required")
		os.Exit(1)
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.Auth.TokenTTL
	}

	validator := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	token, err := validator.IssueToken(*subject, lifetime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "Valid until %s\n", time.Now().Add(lifetime).Format(time.RFC3339))
}
