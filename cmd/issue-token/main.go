// Command issue-token mints a bearer token for an actor using the server's
// configured signing secret.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/config"
	"github.com/garyjia/finflow/internal/domain/entity"
	"github.com/garyjia/finflow/internal/infrastructure/auth"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file, empty for env only")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	code := flag.String("code", "", "actor code (required)")
	name := flag.String("name", "", "actor display name")
	flag.Parse()

	if *code == "" {
		fmt.Fprintln(os.Stderr, "usage: issue-token -code EMP-1 [-name 'Dana Ortiz']")
		os.Exit(2)
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	provider, err := auth.NewJWTProvider(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, port.SystemClock{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create token provider: %v\n", err)
		os.Exit(1)
	}

	token, err := provider.Issue(entity.Actor{Code: *code, Name: *name})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
