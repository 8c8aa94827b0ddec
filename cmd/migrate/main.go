// migrate applies or rolls back the embedded Postgres schema.
package main

import (
	"flag"
	"fmt"
	"os"

	"commonvote/internal/platform/config"
	"commonvote/internal/platform/postgres"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Postgres.URL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set")
		os.Exit(1)
	}

	switch *direction {
	case "up":
		err = postgres.Migrate(cfg.Postgres.URL)
	case "down":
		err = postgres.MigrateDown(cfg.Postgres.URL)
	default:
		err = fmt.Errorf("unknown direction %q", *direction)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
