package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"audiotricks/internal/auth"
	"audiotricks/internal/config"
)

func main() {
	var (
		subject = flag.String("subject", "", "Token subject, e.g. a user or machine name")
		ttl     = flag.Duration("ttl", 30*24*time.Hour, "Token lifetime (0 for no expiry)")
	)
	flag.Parse()

	if *subject == "" {
		fmt.Fprintf(os.Stderr, "Error: -subject is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		fmt.Fprintf(os.Stderr, "Error: JWT_SECRET is not set\n")
		os.Exit(1)
	}

	token, err := auth.Issue(cfg.JWTSecret, *subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
